package model

import (
	"io"
	"time"
)

// Upload is an image received in a multipart request. It lives only for the
// duration of the request that carries it.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Analysis is the result of relaying one upload to the analysis service.
// Text is returned verbatim; no structure is imposed on it.
type Analysis struct {
	Text       string
	StagedKey  string
	ReceivedAt time.Time
	Duration   time.Duration
}
