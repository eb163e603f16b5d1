package autosave

import (
	"encoding/base64"
	"strings"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// Payload is a decoded inline image.
type Payload struct {
	Data []byte
	MIME string
}

// ParseDataURI splits an optional "data:<mime>;base64," wrapper off s.
// Input without the wrapper comes back unchanged with an empty MIME type.
func ParseDataURI(s string) (mime, body string, err error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 || !strings.EqualFold(s[:5], "data:") {
		return "", s, nil
	}

	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", "", errors.NewInvalidInput("malformed data URI: missing ','")
	}

	params := strings.Split(s[5:comma], ";")
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return "", "", errors.NewInvalidInput("malformed data URI: not base64 encoded")
	}

	return strings.ToLower(strings.TrimSpace(params[0])), s[comma+1:], nil
}

// DecodePayload unwraps and decodes an inline base64 image.
func DecodePayload(s string) (*Payload, error) {
	mime, body, err := ParseDataURI(s)
	if err != nil {
		return nil, err
	}

	// line-wrapped payloads are common
	body = strings.Join(strings.Fields(body), "")
	if body == "" {
		return nil, errors.NewInvalidInput("empty base64 payload")
	}

	data, err := decodeBase64(body)
	if err != nil {
		return nil, errors.NewDecodeFailure(err)
	}
	if len(data) == 0 {
		return nil, errors.NewInvalidInput("decoded payload is empty")
	}

	return &Payload{Data: data, MIME: mime}, nil
}

// decodeBase64 tries the standard alphabet first, then unpadded and URL-safe variants.
func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
