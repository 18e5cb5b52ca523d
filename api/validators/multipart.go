package validators

import (
	"errors"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
)

// UploadedFile is one file read from a multipart form.
type UploadedFile struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ReadMultipartFile reads field from a multipart body capped at maxBytes.
// The form value named by each of extra is returned alongside the file.
func ReadMultipartFile(w http.ResponseWriter, r *http.Request, field string, maxBytes int64, extra ...string) (*UploadedFile, map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(maxBytes + 1<<20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "request body too large")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart form")
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "no image provided").
			WithDetails(map[string]string{field: "is required"})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read uploaded file")
	}

	values := make(map[string]string, len(extra))
	for _, key := range extra {
		values[key] = strings.TrimSpace(r.FormValue(key))
	}
	return &UploadedFile{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}, values, nil
}
