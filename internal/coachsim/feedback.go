package coachsim

import (
	"math"
	"strings"
	"unicode"
)

type review struct {
	Score        int
	Message      string
	Achievements []string
	Improvements []string
}

var fillerWords = map[string]bool{
	"um":        true,
	"uh":        true,
	"like":      true,
	"basically": true,
	"actually":  true,
}

var customerWords = map[string]bool{
	"you":   true,
	"your":  true,
	"yours": true,
	"team":  true,
}

// reviewPitch scores a transcript with fixed heuristics so the same pitch
// always earns the same feedback. Scores stay in the 60..95 band the real
// coach uses.
func reviewPitch(transcript string) review {
	words := strings.Fields(strings.ToLower(transcript))
	score := 75
	var ach, imp []string

	if containsDigit(transcript) {
		score += 5
		ach = append(ach, "backs the pitch with concrete numbers")
	} else {
		imp = append(imp, "quantify the impact with a number or two")
	}

	if countIn(words, customerWords) > 0 {
		score += 5
		ach = append(ach, "keeps the customer in the story")
	} else {
		imp = append(imp, "address the customer directly")
	}

	if countIn(words, fillerWords) > 0 {
		score -= 5
		imp = append(imp, "cut the filler words")
	}

	switch {
	case len(words) < 8:
		score -= 5
		imp = append(imp, "give the value proposition more room")
	case len(words) > 60:
		score -= 5
		imp = append(imp, "tighten the message")
	}

	score = clampBand(score)
	return review{
		Score:        score,
		Message:      coachLine(score, imp),
		Achievements: ach,
		Improvements: imp,
	}
}

func coachLine(score int, improvements []string) string {
	var opening string
	switch {
	case score >= 90:
		opening = "Excellent delivery, that pitch lands."
	case score >= 80:
		opening = "Strong pitch with a clear through-line."
	case score >= 70:
		opening = "Good foundation, keep sharpening it."
	default:
		opening = "Keep working the fundamentals."
	}
	if len(improvements) == 0 {
		return opening
	}
	return opening + " Next: " + improvements[0] + "."
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func countIn(words []string, set map[string]bool) int {
	n := 0
	for _, w := range words {
		if set[strings.Trim(w, ".,!?;:")] {
			n++
		}
	}
	return n
}

func clampBand(score int) int {
	if score < 60 {
		return 60
	}
	if score > 95 {
		return 95
	}
	return score
}

// coachTone synthesizes a short confirmation tone whose pitch tracks the
// score, giving audio replies an audible difference between runs.
func coachTone(sampleRate, score int) []float32 {
	freq := 330.0 + 2.0*float64(score)
	n := sampleRate / 5
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.25 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func splitChunks(msg string, n int) []string {
	words := strings.Fields(msg)
	if n <= 1 || len(words) <= n {
		return []string{msg}
	}
	per := (len(words) + n - 1) / n
	var out []string
	for i := 0; i < len(words); i += per {
		j := i + per
		if j > len(words) {
			j = len(words)
		}
		out = append(out, strings.Join(words[i:j], " "))
	}
	return out
}
