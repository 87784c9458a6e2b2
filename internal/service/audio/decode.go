package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// pcm is decoded, interleaved audio at its native rate.
type pcm struct {
	samples    []float32
	channels   int
	sampleRate int
}

func (p *pcm) validate() error {
	if p.channels <= 0 {
		return fmt.Errorf("invalid channel count %d", p.channels)
	}
	if p.sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", p.sampleRate)
	}
	if len(p.samples) < p.channels {
		return errors.New("no audio samples")
	}
	return nil
}

// mono averages the channels of every frame.
func (p *pcm) mono() []float32 {
	if p.channels == 1 {
		return p.samples
	}
	frames := len(p.samples) / p.channels
	out := make([]float32, frames)
	inv := 1 / float32(p.channels)
	for i := range out {
		var sum float32
		for _, s := range p.samples[i*p.channels : (i+1)*p.channels] {
			sum += s
		}
		out[i] = sum * inv
	}
	return out
}

// go-mp3 always yields 16-bit little-endian stereo.
const mp3Channels = 2

func decodeMP3(r io.Reader) (*pcm, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return &pcm{
		samples:    samples,
		channels:   mp3Channels,
		sampleRate: d.SampleRate(),
	}, nil
}

func decodeFLAC(r io.Reader) (*pcm, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	depth := int(stream.Info.BitsPerSample)
	if depth < 4 || depth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}
	scale := float32(int64(1) << (depth - 1))

	samples := make([]float32, 0, int(stream.Info.NSamples)*channels)
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse frame: %w", err)
		}
		if len(f.Subframes) != channels {
			return nil, fmt.Errorf("frame has %d subframes, stream has %d channels", len(f.Subframes), channels)
		}
		for i := 0; i < int(f.BlockSize); i++ {
			for _, sub := range f.Subframes {
				samples = append(samples, float32(sub.Samples[i])/scale)
			}
		}
	}

	return &pcm{
		samples:    samples,
		channels:   channels,
		sampleRate: int(stream.Info.SampleRate),
	}, nil
}

func decodeOGG(r io.Reader) (*pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &pcm{
		samples:    samples,
		channels:   format.Channels,
		sampleRate: format.SampleRate,
	}, nil
}
