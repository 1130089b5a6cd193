// Package media implements the attachment ingress and egress pipeline:
// inbound download and persistence to the date-partitioned file store, and
// outbound payload construction with voice gating and the document fallback.
package media

import "strings"

// Class is the derived attachment category.
type Class string

const (
	ClassImage    Class = "image"
	ClassVideo    Class = "video"
	ClassAudio    Class = "audio"
	ClassDocument Class = "document"
)

// ClassForMime derives the attachment class from a MIME type.
func ClassForMime(mime string) Class {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ClassImage
	case strings.HasPrefix(mime, "video/"):
		return ClassVideo
	case strings.HasPrefix(mime, "audio/"):
		return ClassAudio
	default:
		return ClassDocument
	}
}

// Attachment describes a binary object associated with an inbound message.
// InlineData is present only when the decoded size is at or below the
// configured inline maximum; otherwise Skipped is set and only the persisted
// locator and metadata are carried.
type Attachment struct {
	MimeType       string `json:"mime_type"`
	FileName       string `json:"file_name,omitempty"`
	SizeBytes      int64  `json:"size_bytes"`
	Class          Class  `json:"class"`
	StorageLocator string `json:"storage_locator,omitempty"`
	InlineData     []byte `json:"inline_data,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
}

// SendInput is the caller-facing payload for outbound media.
type SendInput struct {
	Data     []byte
	MimeType string
	FileName string
	AsVoice  bool
	Caption  string
}

var voiceMimes = map[string]struct{}{
	"audio/ogg":              {},
	"audio/ogg; codecs=opus": {},
	"audio/opus":             {},
}

// VoiceCompatible reports whether mime is a recognized voice-note encoding.
func VoiceCompatible(mime string) bool {
	_, ok := voiceMimes[strings.ToLower(strings.TrimSpace(mime))]
	return ok
}
