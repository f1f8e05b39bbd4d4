package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    EventType
		wantErr bool
	}{
		{"login", `{"type":"CLIENT_USER_EVENT_LOGIN","payload":{"loginName":"alice"}}`, EventLogin, false},
		{"roster", `{"type":"SERVER_USER_EVENT_UPDATE_USERS","payload":[{"userName":"alice"}]}`, EventUpdateUsers, false},
		{"offer", `{"type":"SIGNALING_OFFER","payload":{"from":"a","target":"b","data":{}}}`, EventOffer, false},
		{"unknown type still decodes", `{"type":"SOMETHING","payload":{}}`, "SOMETHING", false},
		{"not json", `hello`, "", true},
		{"missing type", `{"payload":{}}`, "", true},
		{"missing payload", `{"type":"SIGNALING_OFFER"}`, "", true},
		{"array payload for signaling", `{"type":"SIGNALING_OFFER","payload":[]}`, "", true},
		{"object payload for roster", `{"type":"SERVER_USER_EVENT_UPDATE_USERS","payload":{}}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.Type)
		})
	}
}

func TestEnvelope_Login(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"CLIENT_USER_EVENT_LOGIN","payload":{"loginName":"alice"}}`))
	require.NoError(t, err)

	login, err := env.Login()
	require.NoError(t, err)
	assert.Equal(t, "alice", login.LoginName)
}

func TestEnvelope_Signal(t *testing.T) {
	env, err := NewSignal(EventAnswer, "bob", "alice", SessionDescription{Type: "answer", SDP: "v=0"})
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"SIGNALING_ANSWER","payload":{"from":"bob","target":"alice","data":{"type":"answer","sdp":"v=0"}}}`,
		string(frame))

	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	msg, err := decoded.Signal()
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.From)
	assert.Equal(t, "alice", msg.Target)

	var desc SessionDescription
	require.NoError(t, json.Unmarshal(msg.Data, &desc))
	assert.Equal(t, SessionDescription{Type: "answer", SDP: "v=0"}, desc)
}

func TestEnvelope_SignalRejectsIncomplete(t *testing.T) {
	frames := []string{
		`{"type":"SIGNALING_OFFER","payload":{"target":"b","data":{}}}`,
		`{"type":"SIGNALING_OFFER","payload":{"from":"a","data":{}}}`,
		`{"type":"SIGNALING_OFFER","payload":{"from":"a","target":"b"}}`,
		`{"type":"CLIENT_USER_EVENT_LOGIN","payload":{"from":"a","target":"b","data":{}}}`,
	}
	for _, f := range frames {
		env, err := DecodeEnvelope([]byte(f))
		require.NoError(t, err)
		_, err = env.Signal()
		assert.ErrorIs(t, err, ErrMalformedMessage, f)
	}
}

// The relay forwards data bytes untouched, including fields it does not know.
func TestEnvelope_DataIsOpaque(t *testing.T) {
	frame := `{"type":"SIGNALING_CANDIDATE","payload":{"from":"a","target":"b","data":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0,"extra":[1,2,3]}}}`
	env, err := DecodeEnvelope([]byte(frame))
	require.NoError(t, err)

	out, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, frame, string(out))
}

func TestEnvelope_Roster(t *testing.T) {
	r := Roster{
		{ConnectionID: "1", DisplayName: "alice"},
		{ConnectionID: "2", DisplayName: "bob"},
	}
	env, err := NewEnvelope(EventUpdateUsers, r.Entries())
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"SERVER_USER_EVENT_UPDATE_USERS","payload":[{"userName":"alice"},{"userName":"bob"}]}`, string(frame))

	entries, err := env.Roster()
	require.NoError(t, err)
	assert.True(t, Contains(entries, "bob"))
	assert.False(t, Contains(entries, "carol"))
	assert.Equal(t, []string{"alice", "bob"}, r.Names())
}

func TestEventType_IsSignaling(t *testing.T) {
	assert.True(t, EventOffer.IsSignaling())
	assert.True(t, EventAnswer.IsSignaling())
	assert.True(t, EventCandidate.IsSignaling())
	assert.False(t, EventLogin.IsSignaling())
	assert.False(t, EventUpdateUsers.IsSignaling())
}
