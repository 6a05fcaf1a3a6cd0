// Package validate holds the pure input checks shared by the relay router,
// the countdown store and the REST handlers.
package validate

import (
	"encoding/base64"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Role is the page a connection has selected inside its company room.
type Role string

const (
	RoleKitchen  Role = "cucina"
	RolePizzeria Role = "pizzeria"
	RoleSalad    Role = "insalata"
)

// DestinationAll addresses every station of a room. Only valid for voice notes.
const DestinationAll = "all"

const (
	MinCompanyNameLength = 2
	MaxCompanyNameLength = 50
	MaxTableNumber       = 999
	MaxDurationSeconds   = 7200
	MaxMessageIDLength   = 100
	MaxCallIDLength      = 100
	MaxVoiceTextLength   = 500
)

// Roles lists every valid page role in display order.
func Roles() []Role {
	return []Role{RoleKitchen, RolePizzeria, RoleSalad}
}

// IsValidCompanyName accepts 2-50 characters drawn from Latin letters
// (accented included), digits, space, hyphen and underscore.
func IsValidCompanyName(name string) bool {
	if !utf8.ValidString(name) {
		return false
	}
	n := utf8.RuneCountInString(name)
	if n < MinCompanyNameLength || n > MaxCompanyNameLength {
		return false
	}
	if strings.TrimSpace(name) == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r == ' ' || r == '-' || r == '_':
		case r >= '0' && r <= '9':
		case unicode.Is(unicode.Latin, r) && unicode.IsLetter(r):
		default:
			return false
		}
	}
	return true
}

// ParseTableNumber returns the canonical form of a table identifier.
func ParseTableNumber(raw string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > MaxTableNumber {
		return "", false
	}
	return strconv.Itoa(n), true
}

// IsValidTableNumber reports whether raw is an integer in (0, 999].
func IsValidTableNumber(raw string) bool {
	_, ok := ParseTableNumber(raw)
	return ok
}

// IsValidDuration reports whether seconds is in (0, 7200].
func IsValidDuration(seconds int) bool {
	return seconds > 0 && seconds <= MaxDurationSeconds
}

// IsValidPageRole reports whether role is one of the station pages.
func IsValidPageRole(role string) bool {
	switch Role(role) {
	case RoleKitchen, RolePizzeria, RoleSalad:
		return true
	}
	return false
}

// IsValidVoiceDestination accepts a page role or "all".
func IsValidVoiceDestination(dest string) bool {
	return dest == DestinationAll || IsValidPageRole(dest)
}

// IsValidMessageID accepts a non-empty printable identifier of bounded length.
func IsValidMessageID(id string) bool {
	return isBoundedToken(id, MaxMessageIDLength)
}

// IsValidCallID accepts a non-empty printable identifier of bounded length.
func IsValidCallID(id string) bool {
	return isBoundedToken(id, MaxCallIDLength)
}

// IsValidVoiceText accepts non-blank text up to MaxVoiceTextLength runes.
func IsValidVoiceText(text string) bool {
	if strings.TrimSpace(text) == "" || !utf8.ValidString(text) {
		return false
	}
	return utf8.RuneCountInString(text) <= MaxVoiceTextLength
}

// IsValidAudioPayload checks that data is standard base64 whose decoded size
// does not exceed maxBytes.
func IsValidAudioPayload(data string, maxBytes int) bool {
	if data == "" {
		return false
	}
	if base64.StdEncoding.DecodedLen(len(data)) > maxBytes+2 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false
	}
	return len(decoded) > 0 && len(decoded) <= maxBytes
}

// IsValidAudioMimeType accepts an empty value or any audio/* type.
func IsValidAudioMimeType(mime string) bool {
	return mime == "" || (strings.HasPrefix(mime, "audio/") && len(mime) <= 100)
}

func isBoundedToken(s string, max int) bool {
	if s == "" || len(s) > max {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
