package asr

import "strings"

// hallucinations are transcripts whisper commonly invents from background
// noise or silence.
var hallucinations = map[string]bool{
	"static": true, "silence": true, "noise": true, "inaudible": true,
	"background noise": true, "music": true, "typing": true,
	"breathing": true, "cough": true, "laughter": true,
	"you": true, "the": true, "a": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true, "thank you": true,
}

// IsNoise reports whether a transcript is likely a noise artifact rather
// than speech worth acting on.
func IsNoise(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	if wrapped(text, "*", "*") || wrapped(text, "[", "]") || wrapped(text, "(", ")") {
		return true
	}
	return hallucinations[strings.ToLower(strings.TrimRight(text, ".!?"))]
}

func wrapped(text, prefix, suffix string) bool {
	return strings.HasPrefix(text, prefix) && strings.HasSuffix(text, suffix)
}
