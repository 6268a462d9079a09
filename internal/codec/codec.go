// Package codec converts captured images into transport payloads and back.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the largest raw image accepted for analysis.
const DefaultMaxBytes = 10 * 1024 * 1024

const dataURIPrefix = "data:"

// Origin identifies where a capture came from.
type Origin string

const (
	OriginCamera  Origin = "camera"
	OriginGallery Origin = "gallery"
)

// Source is a raw image as handed over by a capture surface.
type Source struct {
	Data      []byte
	MediaType string
	Origin    Origin
}

// EncodedImage is the textual transport form of a captured image.
type EncodedImage struct {
	Payload   string
	MediaType string
	Origin    Origin
}

// Codec validates and encodes captured images.
type Codec struct {
	maxBytes int
}

// New builds a codec enforcing maxBytes; non-positive values use DefaultMaxBytes.
func New(maxBytes int) *Codec {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{maxBytes: maxBytes}
}

// Encode validates src and produces its base64 payload. Camera frames that
// arrive without a declared type are sniffed.
func (c *Codec) Encode(src Source) (EncodedImage, error) {
	mediaType := normalizeMediaType(src.MediaType)
	if mediaType == "" && len(src.Data) > 0 {
		mediaType = normalizeMediaType(mimetype.Detect(src.Data).String())
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return EncodedImage{}, &UnsupportedMediaError{MediaType: src.MediaType}
	}
	if len(src.Data) > c.maxBytes {
		return EncodedImage{}, &OversizeError{Size: int64(len(src.Data)), Limit: int64(c.maxBytes)}
	}

	return EncodedImage{
		Payload:   base64.StdEncoding.EncodeToString(src.Data),
		MediaType: mediaType,
		Origin:    src.Origin,
	}, nil
}

// ToDisplayable renders img as a data URI usable by an image surface.
func ToDisplayable(img EncodedImage) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Payload)
}

// Decode returns the raw bytes carried by img.
func Decode(img EncodedImage) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(img.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return data, nil
}

// ParseDataURI turns a base64 data URI (as produced by a canvas snapshot)
// back into a Source.
func ParseDataURI(uri string, origin Origin) (Source, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return Source{}, &MalformedDataURIError{Reason: "missing data: scheme"}
	}
	header, payload, ok := strings.Cut(uri[len(dataURIPrefix):], ",")
	if !ok {
		return Source{}, &MalformedDataURIError{Reason: "missing payload separator"}
	}
	mediaType, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return Source{}, &MalformedDataURIError{Reason: "payload is not base64"}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Source{}, &MalformedDataURIError{Reason: err.Error()}
	}
	return Source{Data: data, MediaType: mediaType, Origin: origin}, nil
}

func normalizeMediaType(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
