package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/services"
)

// multipartMemory is how much of a form is buffered before spilling to disk.
const multipartMemory = 8 << 20

// readUpload parses a multipart form of at most maxBytes and opens field.
// The returned close func releases the part and the form's temp files.
func (b base) readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (services.Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			b.fail(w, http.StatusRequestEntityTooLarge, "file_too_large",
				"Upload exceeds "+strconv.FormatInt(maxBytes, 10)+" bytes")
			return services.Upload{}, nil, false
		}
		b.fail(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form")
		return services.Upload{}, nil, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		b.fail(w, http.StatusBadRequest, "validation_error", field+" is required")
		_ = r.MultipartForm.RemoveAll()
		return services.Upload{}, nil, false
	}

	closeFn := func() {
		if err := file.Close(); err != nil {
			b.logger.Warn("Failed to close upload", zap.Error(err))
		}
		_ = r.MultipartForm.RemoveAll()
	}
	return services.Upload{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	}, closeFn, true
}

// stream copies a stored object to the client as an attachment.
func (b base) stream(w http.ResponseWriter, rc io.ReadCloser, contentType, filename string) {
	defer rc.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", mimeAttachment(filename))
	}
	if _, err := io.Copy(w, rc); err != nil {
		b.logger.Warn("Failed to stream stored object", zap.Error(err))
	}
}

func mimeAttachment(filename string) string {
	return `attachment; filename="` + sanitizeFilename(filename) + `"`
}

// sanitizeFilename keeps header-safe characters only.
func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r < 0x20, r == '"', r == '\\', r == 0x7f:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
