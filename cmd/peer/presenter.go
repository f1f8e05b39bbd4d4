package main

import (
	"github.com/pterm/pterm"

	"github.com/mossy-p/peer-signaling/internal/negotiation"
)

// presenter prints session progress for the user.
type presenter struct{}

func (presenter) PhaseChanged(remote string, phase negotiation.Phase) {
	switch phase {
	case negotiation.PhaseConnected:
		pterm.Success.Printfln("connected with %s", remote)
	case negotiation.PhaseIdle:
		pterm.Info.Printfln("session with %s ended", remote)
	default:
		pterm.Info.Printfln("%s: %s", remote, phase)
	}
}

func (presenter) RemoteMediaAttached(remote string, s negotiation.Stream) {
	pterm.Info.Printfln("receiving media %s from %s", s.ID(), remote)
}

func (presenter) Failed(remote string, err error) {
	pterm.Error.Printfln("session with %s failed: %v", remote, err)
}
