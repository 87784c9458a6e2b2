package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LoaderConfig holds decoder settings.
type LoaderConfig struct {
	FFmpegBinary string // used for m4a
	TempDir      string // parent for transient files; "" means os.TempDir()
}

// Loader decodes audio sources into 16 kHz mono waveforms. It holds no
// per-call state and is safe for concurrent use.
type Loader struct {
	cfg LoaderConfig
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{cfg: cfg}
}

// LoadFile decodes the file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Waveform, error) {
	format, err := FormatFromName(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	return l.load(ctx, path, format, filepath.Base(path))
}

// LoadBytes decodes an in-memory upload. filename supplies the format. The
// content is staged in a temp file that is removed before LoadBytes returns,
// whether or not decoding succeeds.
func (l *Loader) LoadBytes(ctx context.Context, data []byte, filename string) (*Waveform, error) {
	format, err := FormatFromName(filename)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(l.cfg.TempDir, "upload-*."+string(format))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	return l.load(ctx, tmpPath, format, filename)
}

func (l *Loader) load(ctx context.Context, path string, format Format, name string) (*Waveform, error) {
	decoded, err := l.decode(ctx, path, format)
	if err == nil {
		err = decoded.validate()
	}
	if err != nil {
		return nil, &DecodeError{Source: name, Err: err}
	}

	samples := decoded.mono()
	resampled, err := Resample(samples, decoded.sampleRate, SampleRate)
	if err != nil {
		return nil, &DecodeError{Source: name, Err: err}
	}

	log.Debug().
		Str("source", name).
		Str("format", string(format)).
		Int("channels", decoded.channels).
		Int("nativeRate", decoded.sampleRate).
		Int("samples", len(resampled)).
		Msg("Audio decoded")

	return &Waveform{Samples: resampled, SampleRate: SampleRate}, nil
}

func (l *Loader) decode(ctx context.Context, path string, format Format) (*pcm, error) {
	if format == FormatM4A {
		return decodeWithFFmpeg(ctx, l.cfg.FFmpegBinary, l.cfg.TempDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case FormatWAV:
		return decodeWAV(f)
	case FormatMP3:
		return decodeMP3(f)
	case FormatFLAC:
		return decodeFLAC(f)
	case FormatOGG:
		return decodeOGG(f)
	default:
		return nil, &UnsupportedFormatError{Format: string(format)}
	}
}
