package capture

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Script is a replayable coaching session: who the pitch is for plus the
// utterances to speak. Parsed from YAML (or JSON, which YAML subsumes).
type Script struct {
	Customer string `json:"customer" yaml:"customer"`
	Scenario string `json:"scenario" yaml:"scenario"`
	Lines    []Line `json:"lines" yaml:"lines"`
}

// LoadScript reads a script file and rejects empty ones.
func LoadScript(path string) (Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("capture: read script: %w", err)
	}
	return ParseScript(raw)
}

func ParseScript(raw []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Script{}, fmt.Errorf("capture: parse script: %w", err)
	}
	kept := s.Lines[:0]
	for _, line := range s.Lines {
		if strings.TrimSpace(line.Text) == "" {
			continue
		}
		kept = append(kept, line)
	}
	s.Lines = kept
	if len(s.Lines) == 0 {
		return Script{}, fmt.Errorf("capture: script has no lines")
	}
	return s, nil
}
