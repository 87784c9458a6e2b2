// Package models defines the data structures for prediction events.
package models

// Event types.
const (
	EventPredictionCompleted = "prediction.completed"
	EventPredictionFailed    = "prediction.failed"
)

// PredictionCompleted is published after a clip is classified.
type PredictionCompleted struct {
	EventType             string  `json:"eventType"`
	RequestID             string  `json:"requestId"`
	Timestamp             int64   `json:"timestamp"`
	Filename              string  `json:"filename"`
	Prediction            string  `json:"prediction"`
	Probability           float64 `json:"probability"`
	Confidence            float64 `json:"confidence"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
	ModelVersion          string  `json:"modelVersion"`
}

// PredictionFailed is published when a clip could not be classified.
type PredictionFailed struct {
	EventType string `json:"eventType"`
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`
	Filename  string `json:"filename"`
	Stage     string `json:"stage"`
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}
