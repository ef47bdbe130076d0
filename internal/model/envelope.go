package model

// SuccessResponse is the body returned for a processed image.
type SuccessResponse struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis"`
	Message  string `json:"message"`
}

// ErrorResponse is the body returned for any failure. Success is omitted for
// the missing-file case, which only carries an error string.
type ErrorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}
