// Package voice handles the voice-message body encoding "[VOICE_MESSAGE:<seconds>]".
package voice

import (
	"fmt"
	"regexp"
	"strconv"
)

const glyph = "🎤"

var sentinel = regexp.MustCompile(`^\[VOICE_MESSAGE:(\d+)\]$`)

// Parse extracts the duration from a voice-message body.
func Parse(body string) (int, bool) {
	match := sentinel.FindStringSubmatch(body)
	if match == nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return seconds, true
}

// IsVoice reports whether body is a voice-message sentinel.
func IsVoice(body string) bool {
	_, ok := Parse(body)
	return ok
}

// FormatDuration renders seconds as "Ns" under a minute and "M:SS" otherwise.
func FormatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Preview is the sidebar text for a message body.
func Preview(body string) string {
	if seconds, ok := Parse(body); ok {
		return glyph + " " + FormatDuration(seconds)
	}
	return body
}
