package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// Trailing 14 bytes shared by every KSDATAFORMAT_SUBTYPE GUID. The leading two
// bytes carry the format code.
var subformatSuffix = []byte{0, 0, 0, 0, 0x10, 0, 0x80, 0, 0, 0xAA, 0, 0x38, 0x9B, 0x71}

// wavHeader is the fmt chunk with an extensible subformat resolved to its
// plain format code.
type wavHeader struct {
	format     uint16
	channels   int
	sampleRate int
	bitDepth   int
	blockAlign int
}

type fmtChunk struct {
	Format         uint16
	Channels       uint16
	SampleRate     uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
}

type fmtExtension struct {
	Size        uint16
	ValidBits   uint16
	ChannelMask uint32
	SubFormat   [16]byte
}

func decodeWAV(r io.ReadSeeker) (*pcm, error) {
	h, data, err := scanWAV(r)
	if err != nil {
		return nil, err
	}
	switch h.format {
	case wavFormatPCM:
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return decodeIntWAV(r)
	case wavFormatFloat:
		return decodeFloatWAV(h, data)
	default:
		return nil, fmt.Errorf("unsupported WAV encoding %#x", h.format)
	}
}

// scanWAV reads chunks up to the start of the data chunk.
func scanWAV(r io.Reader) (*wavHeader, *riff.Chunk, error) {
	p := riff.New(r)
	id, _, err := p.IDnSize()
	if err != nil || id != riff.RiffID {
		return nil, nil, errors.New("not a valid WAV file")
	}
	var form [4]byte
	if err := binary.Read(r, binary.BigEndian, &form); err != nil || form != riff.WavFormatID {
		return nil, nil, errors.New("not a valid WAV file")
	}

	var h *wavHeader
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if h == nil {
				return nil, nil, errors.New("missing fmt chunk")
			}
			return nil, nil, errors.New("missing data chunk")
		}
		switch ch.ID {
		case riff.FmtID:
			if h, err = readFmt(ch); err != nil {
				return nil, nil, err
			}
		case riff.DataFormatID:
			if h == nil {
				return nil, nil, errors.New("data chunk before fmt chunk")
			}
			return h, ch, nil
		}
		ch.Drain()
	}
}

func readFmt(ch *riff.Chunk) (*wavHeader, error) {
	if ch.Size < 16 {
		return nil, fmt.Errorf("fmt chunk too short: %d bytes", ch.Size)
	}
	var base fmtChunk
	if err := binary.Read(ch, binary.LittleEndian, &base); err != nil {
		return nil, fmt.Errorf("read fmt chunk: %w", err)
	}
	h := &wavHeader{
		format:     base.Format,
		channels:   int(base.Channels),
		sampleRate: int(base.SampleRate),
		bitDepth:   int(base.BitsPerSample),
		blockAlign: int(base.BlockAlign),
	}
	if base.Format != wavFormatExtensible {
		return h, nil
	}

	if ch.Size < 40 {
		return nil, errors.New("extensible fmt chunk too short")
	}
	var ext fmtExtension
	if err := binary.Read(ch, binary.LittleEndian, &ext); err != nil {
		return nil, fmt.Errorf("read fmt extension: %w", err)
	}
	if !bytes.Equal(ext.SubFormat[2:], subformatSuffix) {
		return nil, fmt.Errorf("unsupported WAV subformat %x", ext.SubFormat)
	}
	h.format = binary.LittleEndian.Uint16(ext.SubFormat[:2])
	return h, nil
}

func decodeIntWAV(r io.ReadSeeker) (*pcm, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read PCM: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, errors.New("missing PCM format")
	}

	depth := int(d.BitDepth)
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}
	samples := make([]float32, len(buf.Data))
	if depth == 8 {
		// 8-bit WAV is unsigned
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	} else {
		scale := float32(int64(1) << (depth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / scale
		}
	}

	return &pcm{
		samples:    samples,
		channels:   buf.Format.NumChannels,
		sampleRate: buf.Format.SampleRate,
	}, nil
}

// go-audio/wav only interprets integer PCM, so float data is read straight
// from the data chunk.
func decodeFloatWAV(h *wavHeader, data *riff.Chunk) (*pcm, error) {
	if h.bitDepth != 32 && h.bitDepth != 64 {
		return nil, fmt.Errorf("unsupported float bit depth %d", h.bitDepth)
	}
	if h.channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", h.channels)
	}
	width := h.bitDepth / 8
	frame := width * h.channels

	raw, err := io.ReadAll(io.LimitReader(data, int64(data.Size)))
	if err != nil {
		return nil, fmt.Errorf("read float samples: %w", err)
	}
	raw = raw[:len(raw)/frame*frame]

	samples := make([]float32, len(raw)/width)
	for i := range samples {
		b := raw[i*width:]
		if width == 4 {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		} else {
			samples[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	}

	return &pcm{
		samples:    samples,
		channels:   h.channels,
		sampleRate: h.sampleRate,
	}, nil
}
