package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "join room",
			raw:  `{"action":"joinRoom","companyName":"Pizzeria Roma"}`,
			want: JoinRoom{CompanyName: "Pizzeria Roma"},
		},
		{
			name: "kind discriminator",
			raw:  `{"kind":"joinPage","pageType":"cucina"}`,
			want: JoinPage{PageType: "cucina"},
		},
		{
			name: "countdown with numeric table",
			raw:  `{"action":"startCountdown","tableNumber":5,"timeRemaining":300,"destination":"cucina"}`,
			want: StartCountdown{TableNumber: "5", TimeRemaining: 300, Destination: "cucina"},
		},
		{
			name: "countdown with string fields",
			raw:  `{"action":"startCountdown","tableNumber":"12","timeRemaining":"90"}`,
			want: StartCountdown{TableNumber: "12", TimeRemaining: 90},
		},
		{
			name: "delete countdown",
			raw:  `{"action":"deleteCountdown","tableNumber":"5"}`,
			want: DeleteCountdown{TableNumber: "5"},
		},
		{
			name: "voice note",
			raw:  `{"action":"voiceMessage","messageId":"m1","message":"pronto","destination":"all"}`,
			want: VoiceMessage{MessageID: "m1", Message: "pronto", Destination: "all"},
		},
		{
			name: "ping",
			raw:  `{"action":"ping"}`,
			want: Ping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCallSignal(t *testing.T) {
	got, err := Parse([]byte(`{"action":"webrtc-offer","callId":"c1","targetPageType":"pizzeria","offer":{"type":"offer","sdp":"v=0"}}`))
	require.NoError(t, err)

	sig, ok := got.(CallSignal)
	require.True(t, ok)
	assert.Equal(t, ActionOffer, sig.Action())
	assert.Equal(t, "pizzeria", sig.Target())
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Offer))

	got, err = Parse([]byte(`{"action":"startCall","callId":"c2","targetPage":"insalata"}`))
	require.NoError(t, err)
	assert.Equal(t, "insalata", got.(CallSignal).Target())
	assert.Equal(t, ActionIncomingCall, RelayedAction(got.Action()))

	got, err = Parse([]byte(`{"kind":"startCall","callId":"c3","to":"cucina"}`))
	require.NoError(t, err)
	assert.Equal(t, "cucina", got.(CallSignal).Target())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	pe, ok := AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidJSON, pe.Code)

	_, err = Parse([]byte(`{"action":"startCountdown","tableNumber":true}`))
	pe, ok = AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidFormat, pe.Code)

	_, err = Parse([]byte(`{"action":"startCountdown","tableNumber":"1","timeRemaining":1.5}`))
	pe, ok = AsProtocolError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidFormat, pe.Code)

	_, err = Parse([]byte(`{"action":"launchMissiles"}`))
	assert.True(t, errors.Is(err, ErrUnknownAction))
	_, ok = AsProtocolError(err)
	assert.False(t, ok)

	_, err = Parse([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestActionClasses(t *testing.T) {
	assert.True(t, IsHeartbeat(ActionPing))
	assert.True(t, IsHeartbeat(ActionPong))
	assert.False(t, IsHeartbeat(ActionJoinRoom))

	assert.True(t, IsQualifying(ActionStartCountdown))
	assert.True(t, IsQualifying(ActionDeleteAudioMessage))
	assert.False(t, IsQualifying(ActionJoinPage))
	assert.False(t, IsQualifying(ActionOffer))

	assert.True(t, IsCallSignal(ActionHangup))
	assert.False(t, IsCallSignal(ActionVoiceMessage))
}

func TestCountdownFrameShape(t *testing.T) {
	data, err := Encode(CountdownFrame{
		Action:        ActionStartCountdown,
		TableNumber:   "5",
		TimeRemaining: 300,
		Destination:   "cucina",
		Destinations:  []string{"cucina"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "startCountdown", decoded["action"])
	assert.Equal(t, "5", decoded["tableNumber"])
	assert.Equal(t, float64(300), decoded["timeRemaining"])
	assert.NotContains(t, decoded, "replay")

	data, err = Encode(NewErrorFrame(CodeRateLimit, "slow down"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"error","error":"slow down","code":"RATE_LIMIT"}`, string(data))
}
