package validate

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidCompanyName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "Pizzeria Roma", true},
		{"accented", "Trattoria Località", true},
		{"digits and separators", "bar_2-go", true},
		{"min length", "ab", true},
		{"max length", strings.Repeat("a", 50), true},
		{"too short", "a", false},
		{"too long", strings.Repeat("a", 51), false},
		{"empty", "", false},
		{"only spaces", "   ", false},
		{"punctuation", "Roma!", false},
		{"markup", "<script>", false},
		{"cyrillic", "Пицца", false},
		{"emoji", "pizza 🍕", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidCompanyName(tt.input))
		})
	}
}

func TestParseTableNumber(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"5", "5", true},
		{"005", "5", true},
		{" 12 ", "12", true},
		{"999", "999", true},
		{"0", "", false},
		{"1000", "", false},
		{"-3", "", false},
		{"5a", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseTableNumber(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, IsValidTableNumber(tt.input))
		})
	}
}

func TestIsValidDuration(t *testing.T) {
	assert.True(t, IsValidDuration(1))
	assert.True(t, IsValidDuration(7200))
	assert.False(t, IsValidDuration(0))
	assert.False(t, IsValidDuration(-1))
	assert.False(t, IsValidDuration(7201))
}

func TestIsValidPageRole(t *testing.T) {
	for _, r := range Roles() {
		assert.True(t, IsValidPageRole(string(r)), r)
	}
	assert.False(t, IsValidPageRole("all"))
	assert.False(t, IsValidPageRole("Cucina"))
	assert.False(t, IsValidPageRole(""))

	assert.True(t, IsValidVoiceDestination("all"))
	assert.True(t, IsValidVoiceDestination("pizzeria"))
	assert.False(t, IsValidVoiceDestination("bar"))
}

func TestIdentifiers(t *testing.T) {
	assert.True(t, IsValidMessageID("msg-1700000000-abc"))
	assert.False(t, IsValidMessageID(""))
	assert.False(t, IsValidMessageID("has space"))
	assert.False(t, IsValidMessageID(strings.Repeat("x", 101)))

	assert.True(t, IsValidCallID("call_42"))
	assert.False(t, IsValidCallID("bad\nid"))
}

func TestIsValidVoiceText(t *testing.T) {
	assert.True(t, IsValidVoiceText("tavolo 5 pronto"))
	assert.False(t, IsValidVoiceText("  "))
	assert.False(t, IsValidVoiceText(strings.Repeat("a", 501)))
}

func TestIsValidAudioPayload(t *testing.T) {
	small := base64.StdEncoding.EncodeToString([]byte("RIFF....WAVEfmt "))
	assert.True(t, IsValidAudioPayload(small, 1024))
	assert.False(t, IsValidAudioPayload("", 1024))
	assert.False(t, IsValidAudioPayload("not base64!!", 1024))

	big := base64.StdEncoding.EncodeToString(make([]byte, 2048))
	assert.False(t, IsValidAudioPayload(big, 1024))

	assert.True(t, IsValidAudioMimeType(""))
	assert.True(t, IsValidAudioMimeType("audio/webm;codecs=opus"))
	assert.False(t, IsValidAudioMimeType("video/mp4"))
}
