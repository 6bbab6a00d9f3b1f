package generation

import "strings"

// DefaultStopMarkers are the Phi-3 end-of-turn, user-turn and system-turn markers.
var DefaultStopMarkers = []string{"<|end|>", "<|user|>", "<|system|>"}

// ContainsAny reports whether buffer contains any of markers. It scans the
// whole buffer so a marker split across fragments is still found.
func ContainsAny(buffer string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(buffer, m) {
			return true
		}
	}
	return false
}

// FirstIndex returns the earliest occurrence of any marker in buffer and the
// marker found there, or -1 and "". Ties go to the longer marker.
func FirstIndex(buffer string, markers []string) (int, string) {
	best, found := -1, ""
	for _, m := range markers {
		if m == "" {
			continue
		}
		i := strings.Index(buffer, m)
		if i < 0 {
			continue
		}
		if best < 0 || i < best || (i == best && len(m) > len(found)) {
			best, found = i, m
		}
	}
	return best, found
}

// heldSuffix returns the length of the longest suffix of text that is a
// proper prefix of some marker. Those bytes may still turn into a marker and
// must not be yielded yet.
func heldSuffix(text string, markers []string) int {
	held := 0
	for _, m := range markers {
		limit := min(len(m)-1, len(text))
		for k := limit; k > held; k-- {
			if strings.HasPrefix(m, text[len(text)-k:]) {
				held = k
				break
			}
		}
	}
	return held
}
