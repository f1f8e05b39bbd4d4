// Package presence keeps the process-wide roster of connected parties and
// pushes the full roster to every connection whenever it changes.
package presence

import (
	"errors"
	"strings"
	"sync"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
)

var (
	ErrEmptyName = errors.New("display name is empty")
	ErrNameTaken = errors.New("display name already taken")
)

// Endpoint is a connected party as seen by the directory.
type Endpoint interface {
	ID() string
	// Deliver queues an encoded frame without blocking. It returns false
	// when the frame could not be queued.
	Deliver(frame []byte) bool
}

// Observer is notified with every roster snapshot, in broadcast order.
type Observer interface {
	RosterChanged(roster models.Roster)
}

type registration struct {
	party models.Party
	seq   uint64
}

// Directory maps connection identifiers to display names. All mutations and
// the broadcast of the resulting snapshot happen under one lock, so every
// endpoint observes the same sequence of rosters.
type Directory struct {
	mu          sync.RWMutex
	uniqueNames bool
	endpoints   map[string]Endpoint
	parties     []registration
	seq         uint64
	observers   []Observer
}

// Option configures a Directory.
type Option func(*Directory)

// WithUniqueNames rejects registrations whose name is held by another
// connection.
func WithUniqueNames(unique bool) Option {
	return func(d *Directory) { d.uniqueNames = unique }
}

// WithObserver adds a roster observer.
func WithObserver(o Observer) Option {
	return func(d *Directory) { d.observers = append(d.observers, o) }
}

func NewDirectory(opts ...Option) *Directory {
	d := &Directory{endpoints: make(map[string]Endpoint)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach adds a connected endpoint. It receives the current roster right away
// and every broadcast afterwards.
func (d *Directory) Attach(ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoints[ep.ID()] = ep
	frame, err := encodeRoster(d.snapshotLocked())
	if err != nil {
		logging.Error("failed to encode roster: %v", err)
		return
	}
	ep.Deliver(frame)
}

// Detach removes an endpoint and unregisters its party, if any.
func (d *Directory) Detach(connectionID string) models.Roster {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.endpoints, connectionID)
	if d.removeLocked(connectionID) {
		return d.broadcastLocked()
	}
	return d.snapshotLocked()
}

// Register inserts or overwrites the party for connectionID and broadcasts the
// new roster. An overwrite keeps the party's roster position.
func (d *Directory) Register(connectionID, displayName string) (models.Roster, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, ErrEmptyName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.uniqueNames {
		for _, r := range d.parties {
			if r.party.DisplayName == name && r.party.ConnectionID != connectionID {
				return d.snapshotLocked(), ErrNameTaken
			}
		}
	}

	d.seq++
	reg := registration{
		party: models.Party{ConnectionID: connectionID, DisplayName: name},
		seq:   d.seq,
	}
	replaced := false
	for i := range d.parties {
		if d.parties[i].party.ConnectionID == connectionID {
			d.parties[i] = reg
			replaced = true
			break
		}
	}
	if !replaced {
		d.parties = append(d.parties, reg)
	}

	logging.Info("party %s registered as %q", connectionID, name)
	return d.broadcastLocked(), nil
}

// Unregister removes the party for connectionID. Unknown identifiers are a
// no-op and return the unchanged roster without broadcasting.
func (d *Directory) Unregister(connectionID string) models.Roster {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.removeLocked(connectionID) {
		return d.snapshotLocked()
	}
	return d.broadcastLocked()
}

// Lookup returns the endpoint registered under displayName. With duplicate
// names the most recent registration wins.
func (d *Directory) Lookup(displayName string) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *registration
	for i := range d.parties {
		r := &d.parties[i]
		if r.party.DisplayName == displayName && (best == nil || r.seq > best.seq) {
			best = r
		}
	}
	if best == nil {
		return nil, false
	}
	ep, ok := d.endpoints[best.party.ConnectionID]
	return ep, ok
}

// Roster returns a snapshot of the registered parties.
func (d *Directory) Roster() models.Roster {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Connected returns the number of attached endpoints.
func (d *Directory) Connected() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.endpoints)
}

func (d *Directory) removeLocked(connectionID string) bool {
	for i, r := range d.parties {
		if r.party.ConnectionID == connectionID {
			d.parties = append(d.parties[:i], d.parties[i+1:]...)
			logging.Info("party %s (%q) unregistered", connectionID, r.party.DisplayName)
			return true
		}
	}
	return false
}

func (d *Directory) snapshotLocked() models.Roster {
	roster := make(models.Roster, 0, len(d.parties))
	for _, r := range d.parties {
		roster = append(roster, r.party)
	}
	return roster
}

func (d *Directory) broadcastLocked() models.Roster {
	roster := d.snapshotLocked()

	frame, err := encodeRoster(roster)
	if err != nil {
		logging.Error("failed to encode roster: %v", err)
		return roster
	}
	for id, ep := range d.endpoints {
		if !ep.Deliver(frame) {
			logging.Warn("failed to deliver roster to %s, buffer full", id)
		}
	}
	for _, o := range d.observers {
		o.RosterChanged(roster)
	}
	return roster
}

func encodeRoster(roster models.Roster) ([]byte, error) {
	env, err := models.NewEnvelope(models.EventUpdateUsers, roster.Entries())
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
