// Package sanitize strips hostile characters from model output and flags
// prompt-injection patterns.
//
// Every raw completion passes through Text before it reaches a parser or a
// game engine. Injection detection is a heuristic flag, never a block: the
// turn proceeds and the flag is recorded in telemetry.
package sanitize

import (
	"regexp"
	"strings"
)

// Zero-width and BOM characters removed alongside ASCII control characters.
const zeroWidth = "​‌‍⁠\uFEFF­"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\[\s*INST\s*\]`),
	regexp.MustCompile(`(?i)"role"\s*:\s*"system"`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the|free|unbound)`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)<\s*/?\s*human\s*>`),
	regexp.MustCompile(`(?i)<\s*/?\s*assistant\s*>`),
}

// Text removes ASCII control characters (keeping \t, \n and \r) and the
// zero-width/BOM set. All other Unicode passes through verbatim.
func Text(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(zeroWidth, r):
			return -1
		}
		return r
	}, s)
}

// DetectInjection reports whether the text matches a known prompt-hijack
// pattern. False positives on legitimate game commentary are possible but
// rare; callers treat the result as an annotation only.
func DetectInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
