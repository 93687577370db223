package audio

import (
	"encoding/binary"
	"testing"
)

func TestWAVEncodeDecodeRoundTrip(t *testing.T) {
	pcm := EncodePCM16([]float32{-1.0, -0.25, 0, 0.25, 0.75})
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	clip, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if clip.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d, want 24000", clip.SampleRate)
	}
	if clip.Frames() != 5 {
		t.Fatalf("Frames() = %d, want 5", clip.Frames())
	}
	if clip.Samples[0] != -1.0 {
		t.Fatalf("Samples[0] = %v, want -1.0", clip.Samples[0])
	}
}

func TestDecodeWAVPCM16DownmixesStereo(t *testing.T) {
	// Two frames of stereo: (1000, 3000) and (-2000, -4000).
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(data[2:], uint16(int16(3000)))
	left, right := int16(-2000), int16(-4000)
	binary.LittleEndian.PutUint16(data[4:], uint16(left))
	binary.LittleEndian.PutUint16(data[6:], uint16(right))
	wav := buildWAV(t, data, 2, 16000, 1, 16)

	clip, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if clip.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", clip.Frames())
	}
	if want := float32(2000) / 32768; clip.Samples[0] != want {
		t.Fatalf("Samples[0] = %v, want %v", clip.Samples[0], want)
	}
	if want := float32(-3000) / 32768; clip.Samples[1] != want {
		t.Fatalf("Samples[1] = %v, want %v", clip.Samples[1], want)
	}
}

func TestDecodeWAVPCM16RejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"too_short", []byte("RIFF")},
		{"bad_magic", append([]byte("RIFX1234WAVE"), make([]byte, 16)...)},
		{"float_format", buildWAV(t, []byte{0, 0}, 1, 16000, 3, 16)},
		{"eight_bit", buildWAV(t, []byte{0, 0}, 1, 16000, 1, 8)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeWAVPCM16(tc.data); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

// buildWAV assembles a minimal container with an arbitrary fmt chunk so the
// reject paths can be exercised.
func buildWAV(t *testing.T, pcm []byte, channels uint16, rate uint32, format, bits uint16) []byte {
	t.Helper()
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:], format)
	binary.LittleEndian.PutUint16(fmtChunk[2:], channels)
	binary.LittleEndian.PutUint32(fmtChunk[4:], rate)
	binary.LittleEndian.PutUint32(fmtChunk[8:], rate*uint32(channels)*uint32(bits)/8)
	binary.LittleEndian.PutUint16(fmtChunk[12:], channels*bits/8)
	binary.LittleEndian.PutUint16(fmtChunk[14:], bits)

	var out []byte
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(4+8+len(fmtChunk)+8+len(pcm)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(fmtChunk)))
	out = append(out, fmtChunk...)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}
