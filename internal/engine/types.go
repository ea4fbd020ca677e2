package engine

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries per-request generation parameters.
type Options struct {
	Temperature float64
	Threads     int
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Progress is a load report for one model. Fraction is in [0,1].
type Progress struct {
	Model    string  `json:"model"`
	Text     string  `json:"text"`
	Fraction float64 `json:"fraction"`
}
