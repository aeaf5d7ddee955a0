package api

// WriteResponse is returned by PUT /v1/pattern.
type WriteResponse struct {
	Consumed    int `json:"consumed"`
	PatternSize int `json:"patternSize"`
	BufferSize  int `json:"bufferSize"`
}

// PatternResponse is returned by GET /v1/pattern.
type PatternResponse struct {
	Pattern     string `json:"pattern"`
	PatternSize int    `json:"patternSize"`
	BufferSize  int    `json:"bufferSize"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
