package oracle

import (
	"fmt"
	"strings"
)

func pgnResult(r Result) string {
	switch {
	case r.Checkmate && r.Winner == White:
		return "1-0"
	case r.Checkmate && r.Winner == Black:
		return "0-1"
	case r.Draw:
		return "1/2-1/2"
	default:
		return ""
	}
}

// buildPGN renders SAN moves as numbered movetext, with the result token once the game ends.
func buildPGN(san []string, r Result) string {
	var b strings.Builder
	for i := 0; i < len(san); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(san[i])))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
	}
	if res := pgnResult(r); res != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(res)
	}
	return b.String()
}
