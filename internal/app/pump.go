package app

import (
	"context"
	"fmt"
	"log"

	"github.com/pitchlab/coachlink/internal/capture"
	"github.com/pitchlab/coachlink/internal/client"
	"github.com/pitchlab/coachlink/internal/config"
	"github.com/pitchlab/coachlink/internal/session"
)

// runScriptedCapture replays a capture script through the live link: it
// starts a session for the script's customer and scenario, then forwards
// each final utterance with its audio blob as one voice turn.
func runScriptedCapture(ctx context.Context, cl *client.Client, cfg config.Config) error {
	script, err := capture.LoadScript(cfg.CaptureScript)
	if err != nil {
		return err
	}

	err = cl.StartSession(ctx, session.StartRequest{
		UserID:   cfg.UserID,
		Customer: script.Customer,
		Scenario: script.Scenario,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	source := capture.NewScripted(script.Lines, 0, cfg.SampleRate)
	events, err := source.Start(ctx)
	if err != nil {
		return err
	}
	defer source.Stop()

	var lastFinal string
	for ev := range events {
		switch ev.Type {
		case capture.EventTranscript:
			if ev.Transcript.Final {
				lastFinal = ev.Transcript.Text
			}
		case capture.EventBlob:
			if lastFinal == "" {
				continue
			}
			blob := ev.Blob
			if err := cl.SendVoice(lastFinal, &blob); err != nil {
				// Duplicate suppression and offline rejections are part of
				// normal operation here; log and keep replaying.
				log.Printf("app: capture send skipped: %v", err)
			}
			lastFinal = ""
		case capture.EventError:
			log.Printf("app: capture source: %s", ev.Detail)
		}
	}

	log.Printf("app: capture script finished (%d lines)", len(script.Lines))
	return nil
}
