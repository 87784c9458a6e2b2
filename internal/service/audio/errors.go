package audio

import "fmt"

// UnsupportedFormatError is returned when a source's extension or codec is not
// one of the supported formats.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Format == "" {
		return "unsupported audio format: missing file extension"
	}
	return fmt.Sprintf("unsupported audio format %q", e.Format)
}

// DecodeError is returned when a source cannot be parsed as audio.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
