package classifier

import "fmt"

// ModelNotFoundError is returned when no artifact exists at Path.
type ModelNotFoundError struct {
	Path string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model artifact not found: %s", e.Path)
}

// ModelLoadError is returned when the artifact exists but cannot be decoded
// or does not describe the expected topology.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
