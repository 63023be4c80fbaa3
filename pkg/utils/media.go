package utils

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeFilename removes potentially dangerous characters from a filename
// and returns a safe version for local filesystem storage.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.ReplaceAll(base, "..", "")
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")
	return strings.TrimSpace(base)
}

// Truncate shortens s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// DataURI is a decoded data: URI payload.
type DataURI struct {
	MIMEType string
	Data     []byte
}

// ParseDataURI decodes a "data:<mime>;base64,<payload>" URI. Only the
// base64 form is accepted; clients sending raw text should use /send.
func ParseDataURI(uri string) (DataURI, error) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return DataURI{}, fmt.Errorf("not a data URI")
	}
	rest := uri[len(prefix):]

	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return DataURI{}, fmt.Errorf("data URI missing payload separator")
	}

	meta := rest[:comma]
	payload := rest[comma+1:]

	if !strings.HasSuffix(meta, ";base64") {
		return DataURI{}, fmt.Errorf("data URI must be base64 encoded")
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("decode data URI payload: %w", err)
	}
	return DataURI{MIMEType: mimeType, Data: data}, nil
}

// ExtForMIME maps common media MIME types to a filename extension,
// defaulting to ".bin" for unknown types.
func ExtForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
