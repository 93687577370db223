package capture

import (
	"regexp"
	"strings"
	"time"
)

// Hint describes how long to hold an open utterance before committing it as
// a final transcript.
type Hint struct {
	Reason string
	Hold   time.Duration
	Commit bool
}

const (
	holdMin = 40 * time.Millisecond
	holdMax = 900 * time.Millisecond
)

var (
	continuationTailRe = regexp.MustCompile(`(?i)\b(and|but|because|so|then|which|that|if|when|while|as|to|for)\s*$`)
	continuationHeadRe = regexp.MustCompile(`(?i)^(and|but|because|so|then)\b`)
	terminalTailRe     = regexp.MustCompile(`(?i)([.!?]["']?\s*$|\b(done|thanks|thank you|that's all|thats all)\s*$)`)
	openTailRe         = regexp.MustCompile(`[,;:\-]\s*$`)
)

// EndpointHint classifies a partial transcript. Continuation cues stretch the
// hold, terminal cues shrink it and mark the utterance committable. Returns
// false for empty input.
func EndpointHint(partial string, utteranceAge time.Duration) (Hint, bool) {
	normalized := strings.TrimSpace(strings.ToLower(partial))
	if normalized == "" {
		return Hint{}, false
	}

	hint := Hint{Reason: "neutral", Hold: 210 * time.Millisecond}

	continuation := hasContinuationCue(normalized)
	if continuation {
		hint.Reason = "continuation"
		hint.Hold = 520 * time.Millisecond
	}
	if hasTerminalCue(normalized) {
		hint.Reason = "terminal"
		hint.Hold = 90 * time.Millisecond
		hint.Commit = true
	}

	if utteranceAge > 6*time.Second && !continuation {
		hint.Reason = "long_utterance"
		hint.Hold -= 70 * time.Millisecond
		hint.Commit = true
	}
	if utteranceAge > 0 && utteranceAge < 700*time.Millisecond {
		hint.Hold += 110 * time.Millisecond
	}

	hint.Hold = clampDuration(hint.Hold, holdMin, holdMax)
	return hint, true
}

func hasContinuationCue(normalized string) bool {
	if openTailRe.MatchString(normalized) {
		return true
	}
	if continuationHeadRe.MatchString(normalized) {
		return true
	}
	return continuationTailRe.MatchString(normalized)
}

func hasTerminalCue(normalized string) bool {
	if openTailRe.MatchString(normalized) {
		return false
	}
	return terminalTailRe.MatchString(normalized)
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
