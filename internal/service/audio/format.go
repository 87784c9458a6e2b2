package audio

import (
	"path/filepath"
	"strings"
)

// Format identifies a supported container/codec by its file extension.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
)

// SupportedFormats lists every format the loader can decode.
var SupportedFormats = []Format{FormatWAV, FormatMP3, FormatFLAC, FormatOGG, FormatM4A}

// FormatFromName derives the format from a file name or path. It returns an
// *UnsupportedFormatError for anything outside SupportedFormats.
func FormatFromName(name string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, f := range SupportedFormats {
		if string(f) == ext {
			return f, nil
		}
	}
	return "", &UnsupportedFormatError{Format: ext}
}

// IsSupported reports whether name carries a supported extension.
func IsSupported(name string) bool {
	_, err := FormatFromName(name)
	return err == nil
}
