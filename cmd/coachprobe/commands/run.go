package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pitchlab/coachlink/internal/audio"
	"github.com/pitchlab/coachlink/internal/capture"
	"github.com/pitchlab/coachlink/internal/client"
	"github.com/pitchlab/coachlink/internal/coachsim"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/examples"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/protocol"
	"github.com/pitchlab/coachlink/internal/session"
)

const (
	probeEventBuffer = 256
	probeConnectWait = 30 * time.Second
	probeTailDrain   = 1200 * time.Millisecond
)

var (
	flagURL         string
	flagLocal       bool
	flagGeneration  int
	flagScriptPath  string
	flagExampleID   string
	flagUser        string
	flagCustomer    string
	flagScenario    string
	flagTurnTimeout time.Duration
	flagTurnGap     time.Duration
	flagWAVDir      string
	flagRate        int
	flagVerbose     bool
)

// Spoken when no script or catalog pitch is given.
var defaultLines = []capture.Line{
	{Text: "thanks for making time today, I know the quarter close has you buried"},
	{Text: "our platform cuts new rep onboarding from two weeks to a single afternoon"},
	{Text: "teams your size usually see the subscription pay for itself inside one quarter"},
}

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scripted coaching session",
	Long: `Run a scripted coaching session and print the coach's replies.

Each script line becomes one voice turn: synthesized PCM audio plus the
transcript, sent through the duplicate gate exactly as the daemon sends it.
The probe waits for the coach's feedback before speaking the next line, then
reports scores and per-stage latency percentiles at the end.

Scripts are YAML (or JSON):

    customer: busy_vp
    scenario: renewal
    lines:
      - text: our product saves your team 40 hours every month
      - text: rollout takes one afternoon, not one quarter
        pause_ms: 400`,
	RunE: runProbe,
}

func init() {
	runCmd.Flags().StringVar(&flagURL, "url", "", "backend websocket URL (ws://, wss://, http:// accepted)")
	runCmd.Flags().BoolVar(&flagLocal, "local", false, "probe an in-process coach simulator instead of a live backend")
	runCmd.Flags().IntVar(&flagGeneration, "generation", 2, "envelope generation for --local (1 flat, 2 data-wrapped)")
	runCmd.Flags().StringVarP(&flagScriptPath, "script", "f", "", "pitch script file (YAML or JSON)")
	runCmd.Flags().StringVar(&flagExampleID, "example", "", "replay a catalog pitch (see: coachprobe examples)")
	runCmd.Flags().StringVar(&flagUser, "user", "probe", "user id for the session")
	runCmd.Flags().StringVar(&flagCustomer, "customer", "", "customer persona override")
	runCmd.Flags().StringVar(&flagScenario, "scenario", "", "scenario override")
	runCmd.Flags().DurationVar(&flagTurnTimeout, "turn-timeout", 15*time.Second, "max wait for feedback per turn")
	runCmd.Flags().DurationVar(&flagTurnGap, "turn-gap", 500*time.Millisecond, "pause between turns")
	runCmd.Flags().StringVar(&flagWAVDir, "wav-dir", "", "write coach audio replies as WAV files into this directory")
	runCmd.Flags().IntVar(&flagRate, "rate", 16000, "sample rate for synthesized turn audio")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "print partial feedback, state changes and audio markers")
}

func runProbe(cmd *cobra.Command, args []string) error {
	script, err := resolveScript()
	if err != nil {
		return err
	}
	if flagCustomer != "" {
		script.Customer = flagCustomer
	}
	if flagScenario != "" {
		script.Scenario = flagScenario
	}

	url := flagURL
	if flagLocal {
		if url != "" {
			return errors.New("--local and --url are mutually exclusive")
		}
		sim := coachsim.New(coachsim.Options{
			Generation:   flagGeneration,
			AudioReplies: true,
			SampleRate:   flagRate,
			StreamChunks: 3,
		})
		simURL, stop, err := sim.Start("127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}
		defer stop()
		url = simURL
	}
	if url == "" {
		return errors.New("either --url or --local is required")
	}
	url = wsURL(url)

	bus := event.NewBus()
	sessions := session.NewManager()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "coachprobe")
	latency := observability.NewLatencyWindow(probeEventBuffer)
	events, unsubscribe := bus.Subscribe(probeEventBuffer)
	defer unsubscribe()

	cl := client.New(client.Options{URL: url}, bus, sessions, metrics, latency)
	defer cl.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("probing %s as %s (%d turns)\n", url, flagUser, len(script.Lines))
	if err := cl.StartSession(ctx, session.StartRequest{
		UserID:   flagUser,
		Customer: script.Customer,
		Scenario: script.Scenario,
	}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := awaitConnected(events, probeConnectWait); err != nil {
		return err
	}

	sink := &wavSink{dir: flagWAVDir}
	var (
		sent    int
		replies int
		scores  []int
	)
	for i, line := range script.Lines {
		if i > 0 {
			gap := flagTurnGap
			if line.PauseMS > 0 {
				gap = time.Duration(line.PauseMS) * time.Millisecond
			}
			time.Sleep(gap)
		}
		fmt.Printf("\nturn %d/%d> %s\n", i+1, len(script.Lines), line.Text)
		blob := capture.SynthBlob(line.Text, flagRate)
		if err := cl.SendVoice(line.Text, &blob); err != nil {
			fmt.Printf("  send rejected: %v\n", err)
			continue
		}
		sent++

		outcome, err := awaitFeedback(events, sink, flagTurnTimeout)
		if err != nil {
			fmt.Printf("  %v\n", err)
			continue
		}
		replies++
		printFeedback(outcome)
		if outcome.score != nil {
			scores = append(scores, *outcome.score)
		}
		if outcome.complete {
			break
		}
	}

	// Trailing audio and the session summary can land after the last
	// feedback frame; give them a moment before tearing down.
	drainTail(events, sink, probeTailDrain)

	fmt.Printf("\nturns sent: %d  replies: %d\n", sent, replies)
	if len(scores) > 0 {
		lo, hi, sum := scores[0], scores[0], 0
		for _, sc := range scores {
			if sc < lo {
				lo = sc
			}
			if sc > hi {
				hi = sc
			}
			sum += sc
		}
		fmt.Printf("scores: min %d  avg %.1f  max %d\n", lo, float64(sum)/float64(len(scores)), hi)
	}
	printLatency(latency.Snapshot())
	return nil
}

func printLatency(snap observability.LatencySnapshot) {
	if len(snap.Stages) == 0 {
		return
	}
	fmt.Println("\nlatency (rolling window):")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  STAGE\tSAMPLES\tLAST\tP50\tP95")
	for _, st := range snap.Stages {
		fmt.Fprintf(w, "  %s\t%d\t%.0fms\t%.0fms\t%.0fms\n",
			st.Stage, st.Samples, st.LastMS, st.P50MS, st.P95MS)
	}
	w.Flush()
}

// resolveScript picks the turn source: explicit file, catalog pitch, or the
// built-in default lines.
func resolveScript() (capture.Script, error) {
	if flagScriptPath != "" && flagExampleID != "" {
		return capture.Script{}, errors.New("--script and --example are mutually exclusive")
	}
	if flagScriptPath != "" {
		return capture.LoadScript(flagScriptPath)
	}
	if flagExampleID != "" {
		pitch, err := examples.Get(flagExampleID)
		if err != nil {
			return capture.Script{}, err
		}
		var lines []capture.Line
		for _, sentence := range splitSentences(pitch.Transcript) {
			lines = append(lines, capture.Line{Text: sentence})
		}
		if len(lines) == 0 {
			return capture.Script{}, fmt.Errorf("pitch %s has no speakable lines", pitch.ID)
		}
		return capture.Script{Customer: pitch.Customer, Scenario: pitch.Scenario, Lines: lines}, nil
	}
	return capture.Script{Customer: "busy_vp", Scenario: "discovery", Lines: defaultLines}, nil
}

// splitSentences cuts a transcript paragraph into spoken turns at sentence
// boundaries.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '?' || r == '!' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func awaitConnected(events <-chan event.Event, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed before connect")
			}
			switch ev.Kind {
			case event.KindConnected:
				msg := ev.Text
				if msg == "" {
					msg = "connected"
				}
				fmt.Printf("%s (connection=%s)\n", msg, ev.ConnectionID)
				return nil
			case event.KindConnectionFailed:
				return fmt.Errorf("connection failed: %s", ev.Text)
			case event.KindStateChanged:
				if flagVerbose {
					fmt.Printf("  state: %s -> %s\n", ev.From, ev.To)
				}
			}
		case <-deadline.C:
			return errors.New("timed out waiting for connect")
		}
	}
}

// turnOutcome is what one voice turn produced.
type turnOutcome struct {
	text         string
	score        *int
	achievements []string
	improvements []string
	results      *protocol.SessionResults
	complete     bool
}

// awaitFeedback consumes events until the turn resolves: final feedback,
// session complete, a backend error, or the timeout.
func awaitFeedback(events <-chan event.Event, sink *wavSink, timeout time.Duration) (turnOutcome, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return turnOutcome{}, errors.New("event stream closed mid-turn")
			}
			switch ev.Kind {
			case event.KindTextFeedback:
				if ev.Partial {
					if flagVerbose {
						fmt.Printf("  ... %s\n", ev.Text)
					}
					continue
				}
				return turnOutcome{
					text:         ev.Text,
					score:        ev.Score,
					achievements: ev.Achievements,
					improvements: ev.Improvements,
					results:      ev.Results,
				}, nil
			case event.KindSessionComplete:
				return turnOutcome{text: ev.Text, results: ev.Results, complete: true}, nil
			case event.KindError:
				return turnOutcome{}, fmt.Errorf("backend error: %s", ev.Text)
			case event.KindConnectionFailed:
				return turnOutcome{}, fmt.Errorf("connection failed: %s", ev.Text)
			default:
				observeSideEvent(ev, sink)
			}
		case <-deadline.C:
			return turnOutcome{}, fmt.Errorf("no feedback within %s", timeout)
		}
	}
}

// drainTail soaks up events that arrive after the final turn.
func drainTail(events <-chan event.Event, sink *wavSink, window time.Duration) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case event.KindSessionComplete:
				printFeedback(turnOutcome{text: ev.Text, results: ev.Results, complete: true})
			default:
				observeSideEvent(ev, sink)
			}
		case <-deadline.C:
			return
		}
	}
}

// observeSideEvent handles the kinds a turn does not resolve on: audio
// markers, state changes, system chatter.
func observeSideEvent(ev event.Event, sink *wavSink) {
	switch ev.Kind {
	case event.KindAudioResponse:
		if ev.Clip != nil {
			if path, err := sink.save(ev.Clip); err != nil {
				fmt.Printf("  wav export failed: %v\n", err)
			} else if path != "" {
				fmt.Printf("  coach audio %dms -> %s\n", ev.DurationMS, path)
			} else if flagVerbose {
				fmt.Printf("  coach audio %dms\n", ev.DurationMS)
			}
		}
	case event.KindStateChanged:
		if flagVerbose {
			fmt.Printf("  state: %s -> %s\n", ev.From, ev.To)
		}
	case event.KindSystemText:
		if flagVerbose {
			fmt.Printf("  [%s]\n", ev.Text)
		}
	}
}

func printFeedback(outcome turnOutcome) {
	if outcome.complete {
		fmt.Printf("\nsession complete: %s\n", outcome.text)
		if r := outcome.results; r != nil {
			fmt.Printf("  overall score %d over %d turns\n", r.OverallScore, r.TotalTurns)
			for _, s := range r.Strengths {
				fmt.Printf("  + %s\n", s)
			}
			for _, s := range r.Improvements {
				fmt.Printf("  - %s\n", s)
			}
		}
		return
	}
	fmt.Printf("coach> %s\n", outcome.text)
	if outcome.score != nil {
		fmt.Printf("  score: %d\n", *outcome.score)
	}
	if flagVerbose {
		for _, s := range outcome.achievements {
			fmt.Printf("  + %s\n", s)
		}
		for _, s := range outcome.improvements {
			fmt.Printf("  - %s\n", s)
		}
	}
}

// wavSink numbers and writes coach audio clips when an export dir is set.
type wavSink struct {
	dir string
	n   int
}

func (s *wavSink) save(clip *audio.Clip) (string, error) {
	if s.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	s.n++
	path := filepath.Join(s.dir, fmt.Sprintf("reply_%02d.wav", s.n))
	pcm := audio.EncodePCM16(clip.Samples)
	if err := audio.WriteWAVPCM16LEFile(path, pcm, clip.SampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// wsURL normalizes an http(s) base into the websocket scheme.
func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	return raw
}
