package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"
	"time"
)

// DefaultSampleRate matches the backend's synthesized PCM output.
const DefaultSampleRate = 24000

var ErrUnsupportedContainer = errors.New("unsupported audio container")

// Clip is decoded, playback-ready mono audio.
type Clip struct {
	Samples    []float32
	SampleRate int
}

func (c Clip) Frames() int { return len(c.Samples) }

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || len(c.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Decoder turns containerized audio (mp3, ogg, webm) into a playable clip.
// The default build ships without one; platform integrations inject theirs.
type Decoder interface {
	Decode(mimeType string, data []byte) (Clip, error)
}

// DecodePCM16 converts little-endian 16-bit PCM to normalized samples in
// [-1, 1). Values at or above 32768 in the unsigned reading wrap to the
// negative range. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte, sampleRate int) Clip {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	frames := len(pcm) / 2
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		v := int(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v >= 32768 {
			v -= 65536
		}
		samples[i] = float32(v) / 32768
	}
	return Clip{Samples: samples, SampleRate: sampleRate}
}

// DecodePCM16Base64 decodes a base64 payload of raw PCM16LE mono audio.
func DecodePCM16Base64(encoded string, sampleRate int) (Clip, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Clip{}, fmt.Errorf("decode base64 audio: %w", err)
	}
	return DecodePCM16(pcm, sampleRate), nil
}

// EncodePCM16 converts normalized samples back to little-endian 16-bit PCM,
// clamping values outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodeResponse routes a backend audio payload to the right decoder. Raw PCM
// and WAV decode natively; anything else needs the injected container
// decoder. sampleRate is the frame-declared rate and loses to an explicit
// rate parameter in the mime type.
func DecodeResponse(mimeType, encoded string, sampleRate int, dec Decoder) (Clip, error) {
	if rate := RateFromMime(mimeType); rate > 0 {
		sampleRate = rate
	}
	base := mimeBase(mimeType)
	switch {
	case base == "" || base == "audio/pcm" || base == "audio/l16" || base == "audio/raw":
		return DecodePCM16Base64(encoded, sampleRate)
	case base == "audio/wav" || base == "audio/x-wav" || base == "audio/wave":
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Clip{}, fmt.Errorf("decode base64 audio: %w", err)
		}
		return DecodeWAVPCM16(data)
	default:
		if dec == nil {
			return Clip{}, fmt.Errorf("%w: %s", ErrUnsupportedContainer, base)
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Clip{}, fmt.Errorf("decode base64 audio: %w", err)
		}
		clip, err := dec.Decode(mimeType, data)
		if err != nil {
			return Clip{}, fmt.Errorf("container decode %s: %w", base, err)
		}
		return clip, nil
	}
}

// RateFromMime extracts a rate parameter such as "audio/pcm;rate=24000".
// Returns 0 when absent or unparseable.
func RateFromMime(mimeType string) int {
	if mimeType == "" {
		return 0
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0
	}
	return rate
}

func mimeBase(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		// Fall back to a manual split for sloppy values.
		base = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	return base
}
