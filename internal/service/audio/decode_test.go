package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// wavLayout describes the fmt chunk of a hand-built WAV file. A non-zero
// subformat writes a WAVE_FORMAT_EXTENSIBLE header.
type wavLayout struct {
	format    uint16
	subformat uint16
	bits      int
	channels  int
	rate      int
}

func writeRawWAV(t *testing.T, path string, l wavLayout, interleaved []float64) {
	t.Helper()
	code := l.format
	if l.subformat != 0 {
		code = l.subformat
	}
	width := l.bits / 8

	var data bytes.Buffer
	for _, s := range interleaved {
		switch {
		case code == wavFormatFloat && l.bits == 32:
			binary.Write(&data, binary.LittleEndian, float32(s))
		case code == wavFormatFloat && l.bits == 64:
			binary.Write(&data, binary.LittleEndian, s)
		case l.bits == 16:
			binary.Write(&data, binary.LittleEndian, int16(math.Round(s*32767)))
		default:
			data.Write(make([]byte, width))
		}
	}

	fmtSize := 16
	if l.subformat != 0 {
		fmtSize = 40
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(4+8+fmtSize+8+data.Len()))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(fmtSize))
	binary.Write(&b, binary.LittleEndian, fmtChunk{
		Format:         l.format,
		Channels:       uint16(l.channels),
		SampleRate:     uint32(l.rate),
		AvgBytesPerSec: uint32(l.rate * l.channels * width),
		BlockAlign:     uint16(l.channels * width),
		BitsPerSample:  uint16(l.bits),
	})
	if l.subformat != 0 {
		ext := fmtExtension{Size: 22, ValidBits: uint16(l.bits), ChannelMask: 0x3}
		binary.LittleEndian.PutUint16(ext.SubFormat[:2], l.subformat)
		copy(ext.SubFormat[2:], subformatSuffix)
		binary.Write(&b, binary.LittleEndian, ext)
	}
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())

	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile_WAVLayouts(t *testing.T) {
	tone := sine(SampleRate, 0.25, 440, 0.3)

	tests := []struct {
		name   string
		layout wavLayout
		right  float64 // right channel gain for stereo layouts
		tol    float64
	}{
		{"ieee float32", wavLayout{format: wavFormatFloat, bits: 32, channels: 1}, 0, 1e-6},
		{"ieee float64", wavLayout{format: wavFormatFloat, bits: 64, channels: 1}, 0, 1e-6},
		{"extensible float32 stereo", wavLayout{format: wavFormatExtensible, subformat: wavFormatFloat, bits: 32, channels: 2}, 0.5, 1e-6},
		{"extensible pcm16", wavLayout{format: wavFormatExtensible, subformat: wavFormatPCM, bits: 16, channels: 1}, 0, 1e-4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.layout.rate = SampleRate
			want := tone
			interleaved := tone
			if tt.layout.channels == 2 {
				interleaved = make([]float64, 0, 2*len(tone))
				want = make([]float64, len(tone))
				for i, s := range tone {
					interleaved = append(interleaved, s, s*tt.right)
					want[i] = (s + s*tt.right) / 2
				}
			}
			path := filepath.Join(t.TempDir(), "clip.wav")
			writeRawWAV(t, path, tt.layout, interleaved)

			w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if len(w.Samples) != len(want) {
				t.Fatalf("len(Samples) = %d, want %d", len(w.Samples), len(want))
			}
			for i := range want {
				if math.Abs(float64(w.Samples[i])-want[i]) > tt.tol {
					t.Fatalf("sample %d = %v, want %v", i, w.Samples[i], want[i])
				}
			}
		})
	}
}

func TestLoadFile_RejectsUnknownWAVEncoding(t *testing.T) {
	tests := []struct {
		name   string
		layout wavLayout
	}{
		{"adpcm", wavLayout{format: 2, bits: 4, channels: 1, rate: SampleRate}},
		{"extensible adpcm", wavLayout{format: wavFormatExtensible, subformat: 2, bits: 4, channels: 1, rate: SampleRate}},
		{"16-bit float", wavLayout{format: wavFormatFloat, bits: 16, channels: 1, rate: SampleRate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "clip.wav")
			writeRawWAV(t, path, tt.layout, make([]float64, 64))

			_, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

// writeTestFLAC writes interleaved samples as 16-bit FLAC with verbatim
// subframes.
func writeTestFLAC(t *testing.T, path string, rate, channels int, interleaved []float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	const blockSize = 4096
	frames := len(interleaved) / channels
	info := &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(rate),
		NChannels:     uint8(channels),
		BitsPerSample: 16,
		NSamples:      uint64(frames),
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	assignment := frame.ChannelsMono
	if channels == 2 {
		assignment = frame.ChannelsLR
	}
	for start := 0; start < frames; start += blockSize {
		n := min(blockSize, frames-start)
		subframes := make([]*frame.Subframe, channels)
		for c := range subframes {
			samples := make([]int32, n)
			for i := range samples {
				samples[i] = int32(math.Round(interleaved[(start+i)*channels+c] * 32767))
			}
			subframes[c] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
				NSamples:  n,
			}
		}
		fr := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        uint32(rate),
				Channels:          assignment,
				BitsPerSample:     16,
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(fr); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func peak(samples []float32) float64 {
	var p float64
	for _, s := range samples {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

func TestLoadFile_FLAC(t *testing.T) {
	tone := sine(44100, 2, 440, 0.3)
	interleaved := make([]float64, 0, 2*len(tone))
	for _, s := range tone {
		interleaved = append(interleaved, s, s)
	}
	path := filepath.Join(t.TempDir(), "stereo.flac")
	writeTestFLAC(t, path, 44100, 2, interleaved)

	w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if w.SampleRate != SampleRate || len(w.Samples) != 32000 {
		t.Fatalf("got rate=%d len=%d, want %d/32000", w.SampleRate, len(w.Samples), SampleRate)
	}
	if p := peak(w.Samples[1000:31000]); math.Abs(p-0.3) > 0.02 {
		t.Errorf("peak = %.4f, want about 0.3", p)
	}
}

func TestLoadFile_MP3(t *testing.T) {
	const path = "testdata/speech.mp3"

	// Reference frame count straight from the decoder.
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(d)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	frames := len(raw) / 4
	want := int(math.Round(float64(frames) * SampleRate / float64(d.SampleRate())))

	w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if w.SampleRate != SampleRate || len(w.Samples) != want {
		t.Fatalf("got rate=%d len=%d, want %d/%d", w.SampleRate, len(w.Samples), SampleRate, want)
	}
	if rms(w.Samples) == 0 {
		t.Error("decoded speech is silent")
	}
}

func TestLoadFile_OGG(t *testing.T) {
	const path = "testdata/tone.ogg"

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	length, format, err := oggvorbis.GetLength(f)
	f.Close()
	if err != nil {
		t.Fatal(err)
	}
	want := int(math.Round(float64(length) * SampleRate / float64(format.SampleRate)))

	w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if w.SampleRate != SampleRate || len(w.Samples) != want {
		t.Fatalf("got rate=%d len=%d, want %d/%d", w.SampleRate, len(w.Samples), SampleRate, want)
	}
	if rms(w.Samples) == 0 {
		t.Error("decoded tone is silent")
	}
}
