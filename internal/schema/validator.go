// Package schema checks prediction events before they leave the service.
package schema

import (
	"fmt"
	"math"

	"audio-authenticity-service/internal/models"
	"audio-authenticity-service/internal/service/decision"
)

// tolerance absorbs the four-decimal rounding applied to published values.
const tolerance = 1e-3

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the invariants of a known event type. Unknown types are
// rejected.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case *models.PredictionCompleted:
		return validateCompleted(e)
	case models.PredictionCompleted:
		return validateCompleted(&e)
	case *models.PredictionFailed:
		return validateFailed(e)
	case models.PredictionFailed:
		return validateFailed(&e)
	default:
		return fmt.Errorf("unknown event type %T", event)
	}
}

func validateCompleted(e *models.PredictionCompleted) error {
	if e.EventType != models.EventPredictionCompleted {
		return fmt.Errorf("eventType %q, want %q", e.EventType, models.EventPredictionCompleted)
	}
	if e.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	if math.IsNaN(e.Probability) || e.Probability < 0 || e.Probability > 1 {
		return fmt.Errorf("probability %v outside [0,1]", e.Probability)
	}
	if !decision.IsValidLabel(e.Prediction) {
		return fmt.Errorf("prediction %q is not a known label", e.Prediction)
	}
	if want := decision.Label(e.Probability); e.Prediction != want {
		return fmt.Errorf("prediction %q inconsistent with probability %v", e.Prediction, e.Probability)
	}
	if want := decision.Confidence(e.Probability); math.Abs(e.Confidence-want) > tolerance {
		return fmt.Errorf("confidence %v inconsistent with probability %v", e.Confidence, e.Probability)
	}
	if e.ProcessingTimeSeconds < 0 {
		return fmt.Errorf("negative processing time")
	}
	return nil
}

func validateFailed(e *models.PredictionFailed) error {
	if e.EventType != models.EventPredictionFailed {
		return fmt.Errorf("eventType %q, want %q", e.EventType, models.EventPredictionFailed)
	}
	if e.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	if e.ErrorType == "" {
		return fmt.Errorf("errorType is required")
	}
	return nil
}
