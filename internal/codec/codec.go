// Package codec maps export kinds to transport metadata and provides the
// binary-to-text persistence encoding used when artifact bytes are embedded
// in the text-oriented job record store.
package codec

import (
	"encoding/base64"

	"github.com/drumscribe/api/internal/model"
)

// FallbackContentType is served when a kind's generator could only produce a
// textual placeholder.
const FallbackContentType = "text/plain"

var contentTypes = map[model.ExportKind]string{
	model.ExportMusicXML: "application/vnd.recordare.musicxml+xml",
	model.ExportMIDI:     "audio/midi",
	model.ExportPDF:      "application/pdf",
}

var suffixes = map[model.ExportKind]string{
	model.ExportMusicXML: ".musicxml",
	model.ExportMIDI:     ".mid",
	model.ExportPDF:      ".pdf",
}

// ContentType returns the MIME type for an export kind.
func ContentType(kind model.ExportKind) string {
	if ct, ok := contentTypes[kind]; ok {
		return ct
	}
	return FallbackContentType
}

// FileSuffix returns the filename suffix for an export kind. Degraded
// placeholder artifacts are served as .txt regardless of kind.
func FileSuffix(kind model.ExportKind, degraded bool) string {
	if degraded {
		return ".txt"
	}
	if s, ok := suffixes[kind]; ok {
		return s
	}
	return ".txt"
}

// EncodePayload encodes artifact bytes for embedding in a structured record.
// All new writes use this form.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayload reverses EncodePayload. Legacy records stored raw UTF-8 text
// instead of encoded bytes, so decode is attempted first and the value is
// treated as literal text only when that fails. The boolean reports whether
// the binary decode path was taken.
func DecodePayload(stored string) ([]byte, bool) {
	if decoded, err := base64.StdEncoding.DecodeString(stored); err == nil {
		return decoded, true
	}
	return []byte(stored), false
}
