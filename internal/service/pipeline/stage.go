package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/features"
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StageDecode   Stage = "decode"
	StageExtract  Stage = "extract"
	StageInfer    Stage = "infer"
)

// StageError wraps the error that stopped a pipeline run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or "" if err did not come from
// a pipeline run.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ErrorType classifies err for metrics and event payloads.
func ErrorType(err error) string {
	var (
		unsupported *audio.UnsupportedFormatError
		decode      *audio.DecodeError
		shape       *features.ShapeMismatchError
	)
	switch {
	case errors.As(err, &unsupported):
		return "unsupported_format"
	case errors.Is(err, fs.ErrNotExist):
		return "not_found"
	case errors.As(err, &decode):
		return "decode_error"
	case errors.As(err, &shape):
		return "shape_mismatch"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
