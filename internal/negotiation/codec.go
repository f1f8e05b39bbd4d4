package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mossy-p/peer-signaling/internal/models"
)

// errEndOfCandidates marks the empty candidate some engines send once
// gathering completes. It is dropped silently.
var errEndOfCandidates = errors.New("end of candidates")

func decodeDescription(data json.RawMessage, want string) (models.SessionDescription, error) {
	var desc models.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return models.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}
	if desc.Type != want {
		return models.SessionDescription{}, fmt.Errorf("%w: got type %q, want %q", ErrInvalidDescription, desc.Type, want)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return models.SessionDescription{}, fmt.Errorf("%w: empty sdp", ErrInvalidDescription)
	}
	return desc, nil
}

func decodeCandidate(data json.RawMessage) (models.Candidate, error) {
	var c models.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Candidate{}, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	if strings.TrimSpace(c.Candidate) == "" {
		return models.Candidate{}, errEndOfCandidates
	}
	return c, nil
}
