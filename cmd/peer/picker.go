package main

import (
	"context"
	"sync"

	"github.com/pterm/pterm"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
)

const waitOption = "(wait to be called)"

// picker lets the user choose whom to call from the live roster.
type picker struct {
	self string

	mu      sync.Mutex
	parties []string
	changed chan struct{}
}

func newPicker(self string) *picker {
	return &picker{self: self, changed: make(chan struct{}, 1)}
}

// Update records the latest roster. Only the newest one is kept.
func (p *picker) Update(entries []models.RosterEntry) {
	p.mu.Lock()
	p.parties = otherParties(p.self, entries)
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *picker) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.parties...)
}

// Run prompts after every roster change that leaves someone to call and
// passes the choice to call. The prompt itself cannot be interrupted, so Run
// is not part of the shutdown group.
func (p *picker) Run(ctx context.Context, call func(target string)) {
	for {
		select {
		case <-p.changed:
		case <-ctx.Done():
			return
		}

		parties := p.snapshot()
		if len(parties) == 0 {
			continue
		}

		choice, err := pterm.DefaultInteractiveSelect.
			WithOptions(append(parties, waitOption)).
			WithDefaultText("Select a party to call").
			Show()
		pterm.Println()
		if err != nil {
			logging.Warn("failed to read selection: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if choice != waitOption {
			call(choice)
		}
	}
}

// otherParties returns the roster names other than self, in roster order.
func otherParties(self string, entries []models.RosterEntry) []string {
	var out []string
	for _, e := range entries {
		if e.UserName != self {
			out = append(out, e.UserName)
		}
	}
	return out
}
