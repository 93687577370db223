package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pitchlab/coachlink/internal/audio"
)

var (
	flagWAVOut  string
	flagWAVRate int
)

// wavCmd represents the wav command.
var wavCmd = &cobra.Command{
	Use:   "wav <input>",
	Short: "Convert a base64 PCM dump to a WAV file",
	Long: `Convert a base64-encoded PCM dump to a playable WAV file.

The input is an audio payload as it travels on the wire: base64 text with
little-endian 16-bit mono PCM inside. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return convertWAV(args[0], flagWAVOut, flagWAVRate)
	},
}

func init() {
	wavCmd.Flags().StringVarP(&flagWAVOut, "out", "o", "", "output path (default: input name with .wav)")
	wavCmd.Flags().IntVar(&flagWAVRate, "rate", audio.DefaultSampleRate, "PCM sample rate of the dump")
}

func convertWAV(in, out string, rate int) error {
	var raw []byte
	var err error
	if in == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(in)
	}
	if err != nil {
		return err
	}
	pcm, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	if out == "" {
		if in == "-" {
			out = "out.wav"
		} else {
			out = strings.TrimSuffix(in, filepath.Ext(in)) + ".wav"
		}
	}
	if err := audio.WriteWAVPCM16LEFile(out, pcm, rate); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d PCM bytes at %d Hz)\n", out, len(pcm), rate)
	return nil
}
