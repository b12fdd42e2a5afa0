package http

import (
	"errors"
	"io"
	"net/http"

	"zerosum/internal/adapters"
)

// maxUploadBytes leaves room for the multipart envelope around the image.
const maxUploadBytes = adapters.MaxImageBytes + 1<<20

// handleUploadReceipt takes multipart form fields image, accountId and an
// optional date.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		ErrorResponse(http.StatusServiceUnavailable, "unavailable", "receipt scanning is not configured").Write(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(2 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, r, "upload_receipt", adapters.ErrImageTooLarge)
			return
		}
		s.fail(w, r, "upload_receipt", badRequestf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.fail(w, r, "upload_receipt", badRequestf("missing image file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, adapters.MaxImageBytes+1))
	if err != nil {
		s.fail(w, r, "upload_receipt", badRequestf("read image: %v", err))
		return
	}

	tx, err := s.receipts.Submit(r.Context(), adapters.Receipt{
		AccountID:   sanitizeInput(r.FormValue("accountId")),
		Date:        sanitizeInput(r.FormValue("date")),
		ContentType: header.Header.Get("Content-Type"),
		Image:       data,
	})
	if err != nil {
		s.fail(w, r, "upload_receipt", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}
