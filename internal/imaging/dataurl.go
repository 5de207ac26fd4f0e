package imaging

import (
	"encoding/base64"
	"errors"
	"mime"
	"strings"
)

// ErrBadDataURL is returned for malformed base64 image strings.
var ErrBadDataURL = errors.New("invalid base64 image")

// ParseDataURL decodes "data:<mime>;base64,<data>" or a bare base64 string.
// Bare strings are assumed to be JPEG.
func ParseDataURL(s string) (*Payload, error) {
	mimeType, data := MIMEJPEG, s
	if strings.HasPrefix(s, "data:") {
		meta, rest, ok := strings.Cut(s, ",")
		if !ok {
			return nil, ErrBadDataURL
		}
		mediaType, _, _ := strings.Cut(strings.TrimPrefix(meta, "data:"), ";")
		if mediaType != "" {
			mimeType = mediaType
		}
		data = rest
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, ErrBadDataURL
	}
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	return &Payload{Data: raw, MIMEType: mimeType, Filename: "upload" + Extension(mimeType)}, nil
}

// Extension returns the file extension for an image MIME type.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg", "":
		return ".jpg"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	if _, sub, ok := strings.Cut(mimeType, "/"); ok {
		return "." + sub
	}
	return ""
}
