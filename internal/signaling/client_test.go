package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/handlers"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/presence"
	"github.com/mossy-p/peer-signaling/internal/relay"
)

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	directory := presence.NewDirectory()
	router := handlers.NewRouter(&config.Config{Environment: "production"}, directory, relay.New(directory))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type listener struct {
	rosters chan []models.RosterEntry
	signals chan models.Envelope
	done    chan error
}

func listen(t *testing.T, ctx context.Context, c *Client) *listener {
	t.Helper()
	l := &listener{
		rosters: make(chan []models.RosterEntry, 16),
		signals: make(chan models.Envelope, 16),
		done:    make(chan error, 1),
	}
	go func() {
		l.done <- c.Listen(ctx, Handlers{
			Roster: func(entries []models.RosterEntry) { l.rosters <- entries },
			Signal: func(env models.Envelope) { l.signals <- env },
		})
	}()
	return l
}

func (l *listener) waitFor(t *testing.T, names ...string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case entries := <-l.rosters:
			if len(entries) != len(names) {
				continue
			}
			match := true
			for i, n := range names {
				match = match && entries[i].UserName == n
			}
			if match {
				return
			}
		case <-timeout:
			t.Fatalf("roster %v never arrived", names)
		}
	}
}

func TestClient_LoginAndSignal(t *testing.T) {
	url := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, err := Dial(ctx, url)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := Dial(ctx, url)
	require.NoError(t, err)
	defer bob.Close()

	al := listen(t, ctx, alice)
	bl := listen(t, ctx, bob)

	require.NoError(t, alice.Login("alice"))
	al.waitFor(t, "alice")
	require.NoError(t, bob.Login("bob"))
	al.waitFor(t, "alice", "bob")
	bl.waitFor(t, "alice", "bob")

	env, err := models.NewSignal(models.EventOffer, "alice", "bob", models.SessionDescription{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(env))

	select {
	case got := <-bl.signals:
		assert.Equal(t, models.EventOffer, got.Type)
		msg, err := got.Signal()
		require.NoError(t, err)
		assert.Equal(t, "alice", msg.From)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("offer was not relayed")
	}
}

func TestClient_ListenStopsOnCancel(t *testing.T) {
	url := startRelay(t)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := listen(t, ctx, c)
	cancel()

	select {
	case err := <-l.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return")
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}
