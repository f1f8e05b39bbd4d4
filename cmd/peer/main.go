// Peer is a headless negotiation client. It logs in to the signaling relay,
// shows the roster and either calls a named party, lets the user pick one
// from the roster, or waits to be called.
// Local media is synthetic: Opus silence plus an idle VP8 track.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/negotiation"
	"github.com/mossy-p/peer-signaling/internal/peer"
	"github.com/mossy-p/peer-signaling/internal/signaling"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadPeer()

	name := flag.String("name", "", "Display name to log in with")
	url := flag.String("url", cfg.SignalingURL, "WebSocket URL of the signaling relay")
	call := flag.String("call", "", "Party to call once it appears in the roster")
	interactive := flag.Bool("interactive", true, "Pick a party to call from the roster (ignored with -call)")
	timeout := flag.Duration("timeout", cfg.NegotiationTimeout, "Fail negotiations that stall this long (0 disables)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		logging.EnableDebug()
	}
	cfg.SignalingURL = *url
	cfg.NegotiationTimeout = *timeout

	localName := strings.TrimSpace(*name)
	if localName == "" {
		localName = askName()
	}

	callTarget := strings.TrimSpace(*call)
	var pick *picker
	if callTarget == "" && *interactive {
		pick = newPicker(localName)
	}

	if err := run(ctx, cfg, localName, callTarget, pick); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("%v", err)
		os.Exit(1)
	}
	logging.Info("signed out")
}

func run(ctx context.Context, cfg *config.PeerConfig, name, call string, pick *picker) error {
	factory, err := peer.NewFactory(cfg)
	if err != nil {
		return err
	}

	client, err := signaling.Dial(ctx, cfg.SignalingURL)
	if err != nil {
		return err
	}
	defer client.Close()

	machine := negotiation.NewMachine(negotiation.Config{
		LocalName:    name,
		Connections:  factory,
		Media:        peer.SyntheticMedia{},
		Signaler:     client,
		Observer:     presenter{},
		StallTimeout: cfg.NegotiationTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	calls := make(chan string, 1)
	var once sync.Once

	g.Go(func() error {
		return machine.Run(gctx)
	})

	g.Go(func() error {
		return client.Listen(gctx, signaling.Handlers{
			Roster: func(entries []models.RosterEntry) {
				showRoster(name, entries)
				if call != "" && models.Contains(entries, call) {
					once.Do(func() { calls <- call })
				}
				if pick != nil {
					pick.Update(entries)
				}
			},
			Signal: machine.Deliver,
		})
	})

	g.Go(func() error {
		select {
		case target := <-calls:
			if err := machine.SelectPeer(gctx, target); err != nil {
				logging.Warn("failed to call %q: %v", target, err)
			}
		case <-gctx.Done():
		}
		<-gctx.Done()
		return gctx.Err()
	})

	if err := client.Login(name); err != nil {
		return err
	}
	logging.Info("logged in as %q at %s", name, cfg.SignalingURL)
	switch {
	case pick != nil:
		go pick.Run(gctx, func(target string) {
			if err := machine.SelectPeer(gctx, target); err != nil {
				logging.Warn("failed to call %q: %v", target, err)
			}
		})
	case call == "":
		logging.Info("waiting for a call")
	}

	return g.Wait()
}

// showRoster renders the roster, marking the local party.
func showRoster(self string, entries []models.RosterEntry) {
	data := pterm.TableData{{"#", "Party"}}
	for i, e := range entries {
		label := e.UserName
		if label == self {
			label += " (you)"
		}
		data = append(data, []string{fmt.Sprint(i + 1), label})
	}
	pterm.Println()
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		logging.Warn("failed to render roster: %v", err)
	}
}

// askName prompts for a display name until a non-blank one is entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Display name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}
		logging.Warn("display name must not be blank")
	}
}
