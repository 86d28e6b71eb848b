package logging

import "strings"

// FormatSubject builds the phase/pair subject string used in console output.
func FormatSubject(phase, pair string) string {
	phase = strings.TrimSpace(phase)
	pair = strings.TrimSpace(pair)
	parts := make([]string, 0, 2)
	if phase != "" {
		if len(phase) > 1 {
			phase = strings.ToUpper(phase[:1]) + strings.ToLower(phase[1:])
		} else {
			phase = strings.ToUpper(phase)
		}
		parts = append(parts, phase)
	}
	if pair != "" {
		parts = append(parts, pair)
	}
	return strings.Join(parts, " · ")
}
