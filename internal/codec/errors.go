package codec

import "fmt"

// UnsupportedMediaError is returned when a capture is not an image.
type UnsupportedMediaError struct {
	MediaType string
}

func (e *UnsupportedMediaError) Error() string {
	if e.MediaType == "" {
		return "unsupported media type: undeclared"
	}
	return fmt.Sprintf("unsupported media type: %s", e.MediaType)
}

// OversizeError is returned when a capture exceeds the configured limit.
type OversizeError struct {
	Size  int64
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("image is %d bytes, limit is %d", e.Size, e.Limit)
}

// MalformedDataURIError is returned when a camera frame cannot be parsed.
type MalformedDataURIError struct {
	Reason string
}

func (e *MalformedDataURIError) Error() string {
	return "malformed data uri: " + e.Reason
}
