// coachprobe exercises a pitch coach backend from the command line.
//
// Usage:
//
//	coachprobe run --local                    # scripted session against the embedded simulator
//	coachprobe run --url ws://host:8080 -f pitch.yaml
//	coachprobe run --local --example fintech-reconciliation
//	coachprobe examples                       # list the built-in pitch catalog
//	coachprobe wav dump.b64 -o reply.wav      # decode a base64 PCM dump to WAV
//
// The run command drives voice turns through the same connection machinery
// the daemon uses: session start envelope, duplicate gate, reconnects and
// heartbeats all behave exactly as they do in production.
package main

import (
	"fmt"
	"os"

	"github.com/pitchlab/coachlink/cmd/coachprobe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
