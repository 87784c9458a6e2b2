package audio

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWAV writes interleaved samples as a 16-bit PCM WAV file.
func writeTestWAV(t *testing.T, path string, rate, channels int, interleaved []float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	data := make([]int, len(interleaved))
	for i, s := range interleaved {
		data[i] = int(math.Round(s * 32767))
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func sine(rate int, seconds, freq, amp float64) []float64 {
	n := int(float64(rate) * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestLoadFile_StereoDownmixAndResample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")

	mono := sine(44100, 1, 440, 0.5)
	interleaved := make([]float64, 0, len(mono)*2)
	for _, s := range mono {
		interleaved = append(interleaved, s, s)
	}
	writeTestWAV(t, path, 44100, 2, interleaved)

	loader := NewLoader(LoaderConfig{TempDir: dir})
	w, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if w.SampleRate != SampleRate {
		t.Errorf("SampleRate = %d, want %d", w.SampleRate, SampleRate)
	}
	if len(w.Samples) != 16000 {
		t.Errorf("len(Samples) = %d, want 16000", len(w.Samples))
	}

	// Energy of the 440 Hz tone survives the conversion.
	got := rms(w.Samples[2000:14000])
	want := 0.5 / math.Sqrt2
	if math.Abs(got-want)/want > 0.1 {
		t.Errorf("rms = %.4f, want about %.4f", got, want)
	}
}

func TestLoadFile_PreservesTiming(t *testing.T) {
	clicks := []float64{0.1, 0.5, 1.0, 1.5, 1.95}
	for _, rate := range []int{44100, 22050, 8000} {
		t.Run(strconv.Itoa(rate), func(t *testing.T) {
			src := make([]float64, 2*rate)
			for _, at := range clicks {
				src[int(math.Round(at*float64(rate)))] = 0.9
			}
			path := filepath.Join(t.TempDir(), "clicks.wav")
			writeTestWAV(t, path, rate, 1, src)

			w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if len(w.Samples) != 2*SampleRate {
				t.Fatalf("len(Samples) = %d, want %d", len(w.Samples), 2*SampleRate)
			}
			for _, at := range clicks {
				want := int(math.Round(at * SampleRate))
				got, best := -1, 0.0
				for i := want - 50; i <= want+50; i++ {
					if a := math.Abs(float64(w.Samples[i])); a > best {
						got, best = i, a
					}
				}
				if got < want-1 || got > want+1 {
					t.Errorf("click at %.2fs peaked at sample %d, want %d", at, got, want)
				}
			}
		})
	}
}

func TestResample_KeepsLevelAtEdges(t *testing.T) {
	src := make([]float32, 44100)
	for i := range src {
		src[i] = 0.5
	}
	out, err := Resample(src, 44100, SampleRate)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != SampleRate {
		t.Fatalf("len = %d, want %d", len(out), SampleRate)
	}
	for _, i := range []int{20, SampleRate / 2, SampleRate - 20} {
		if math.Abs(float64(out[i])-0.5) > 0.03 {
			t.Errorf("out[%d] = %v, want about 0.5", i, out[i])
		}
	}
}

func TestLoadFile_NativeRatePassesThrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "native.wav")
	src := sine(SampleRate, 0.5, 1000, 0.25)
	writeTestWAV(t, path, SampleRate, 1, src)

	w, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(w.Samples) != len(src) {
		t.Fatalf("len(Samples) = %d, want %d", len(w.Samples), len(src))
	}
	for i := range src {
		if math.Abs(float64(w.Samples[i])-src[i]) > 1e-4 {
			t.Fatalf("sample %d = %v, want %v", i, w.Samples[i], src[i])
		}
	}
}

func TestLoadFile_Deterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "det.wav")
	writeTestWAV(t, path, 22050, 1, sine(22050, 0.5, 300, 0.4))

	loader := NewLoader(LoaderConfig{})
	a, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	b, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("lengths differ: %d vs %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a.Samples[i], b.Samples[i])
		}
	}
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	_, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), "notes.txt")
	var ufe *UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if ufe.Format != "txt" {
		t.Errorf("Format = %q, want txt", ufe.Format)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadFile_Garbage(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bad.wav", "bad.mp3", "bad.flac", "bad.ogg"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := NewLoader(LoaderConfig{}).LoadFile(context.Background(), path)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected DecodeError, got %v", name, err)
		}
	}
}

func TestLoadBytes_RemovesTempFile(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "clip.wav")
	writeTestWAV(t, path, SampleRate, 1, sine(SampleRate, 0.25, 500, 0.3))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", data, false},
		{"decode failure", []byte("RIFF....garbage"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			loader := NewLoader(LoaderConfig{TempDir: tmp})

			_, err := loader.LoadBytes(context.Background(), tt.data, "upload.wav")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			entries, err := os.ReadDir(tmp)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("temp dir not cleaned: %d entries left", len(entries))
			}
		})
	}
}

func TestLoadBytes_UnsupportedCreatesNothing(t *testing.T) {
	tmp := t.TempDir()
	_, err := NewLoader(LoaderConfig{TempDir: tmp}).LoadBytes(context.Background(), []byte("x"), "notes.txt")
	var ufe *UnsupportedFormatError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("unsupported upload should not touch the temp dir")
	}
}

func TestLoadFile_M4AUsesFFmpeg(t *testing.T) {
	orig := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	defer func() { commandContext = orig }()

	dir := t.TempDir()
	path := filepath.Join(dir, "voice.m4a")
	if err := os.WriteFile(path, []byte("fake aac"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewLoader(LoaderConfig{FFmpegBinary: "ffmpeg", TempDir: dir}).LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if w.SampleRate != SampleRate || len(w.Samples) != SampleRate/4 {
		t.Errorf("got rate=%d len=%d", w.SampleRate, len(w.Samples))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("ffmpeg scratch dir not removed: %d entries", len(entries))
	}
}

// TestHelperProcess stands in for ffmpeg: it writes a quarter second of 16 kHz
// mono audio to the last argument.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	dest := os.Args[len(os.Args)-1]
	samples := make([]float32, SampleRate/4)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*300*float64(i)/SampleRate))
	}
	if err := WriteWAV(dest, samples, SampleRate); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
