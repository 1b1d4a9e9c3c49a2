package domain

// StreamStatus is the lifecycle stage reported by a streaming evaluation.
type StreamStatus string

// Streaming evaluation stages.
const (
	StreamProcessing StreamStatus = "processing"
	StreamCompleted  StreamStatus = "completed"
	StreamFailed     StreamStatus = "error"
)

// StreamEvent is one progress update from a streaming evaluation. Result is
// set only on StreamCompleted and Err only on StreamFailed.
type StreamEvent struct {
	RequestID string       `json:"request_id"`
	Status    StreamStatus `json:"status"`
	Progress  float64      `json:"progress"`
	Message   string       `json:"message,omitempty"`
	Result    *TrustScore  `json:"result,omitempty"`
	Err       error        `json:"-"`
}

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Status == StreamCompleted || e.Status == StreamFailed
}
