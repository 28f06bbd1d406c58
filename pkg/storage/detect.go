package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/omnifin/backoffice/pkg/models"
)

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

// Sniffed is an upload whose content type has been detected from its first bytes.
type Sniffed struct {
	MimeType string
	// Kind is one of the models.FileType* categories.
	Kind string
	// Body replays the sniffed bytes followed by the rest of the stream.
	Body io.Reader
}

// Sniff detects the content type of r without consuming it.
func Sniff(r io.Reader) (*Sniffed, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	return &Sniffed{
		MimeType: mtype.String(),
		Kind:     KindOf(mtype.String()),
		Body:     io.MultiReader(bytes.NewReader(head), r),
	}, nil
}

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/rtf":    true,
	"text/plain":         true,
	"text/csv":           true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.ms-excel": true,
}

// KindOf maps a MIME type to a file category.
func KindOf(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))

	switch {
	case strings.HasPrefix(base, "image/"):
		return models.FileTypeImage
	case strings.HasPrefix(base, "audio/"):
		return models.FileTypeAudio
	case strings.HasPrefix(base, "video/"):
		return models.FileTypeVideo
	case documentTypes[base]:
		return models.FileTypeDocument
	default:
		return models.FileTypeOther
	}
}
