package media

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeDataURL splits a legacy embedded image ("data:image/jpeg;base64,...")
// into its content type and raw bytes.
func DecodeDataURL(s string) (contentType string, data []byte, err error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data url")
	}
	contentType = meta
	encoded := false
	if ct, found := strings.CutSuffix(meta, ";base64"); found {
		contentType = ct
		encoded = true
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	if !encoded {
		return contentType, []byte(payload), nil
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url payload: %w", err)
	}
	return contentType, data, nil
}

// EncodeDataURL builds a base64 data URL, the legacy embedded image format.
func EncodeDataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
