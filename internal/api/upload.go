package api

import (
	"errors"
	"fmt"
	"iter"
	"net/http"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/rowsource"
)

// handleUpload ingests the multipart "file" field. When csvOnly is set the
// file is read as CSV whatever its name.
func (a *API) handleUpload(kind ipdr.Kind, csvOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
		if err := r.ParseMultipartForm(a.maxUpload); err != nil {
			a.fail(w, r, fmt.Errorf("%w: invalid multipart upload: %w", ipdr.ErrInvalidRequest, err))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, fh, err := r.FormFile("file")
		if err != nil {
			a.fail(w, r, ipdr.RequestError("file", "is required"))
			return
		}
		defer file.Close()

		var rows iter.Seq2[ipdr.RawRow, error]
		if csvOnly {
			rows, err = rowsource.CSV(file)
		} else {
			rows, err = rowsource.Open(fh.Filename, file)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}

		a.logger.Info("processing upload", "kind", kind, "filename", fh.Filename, "size", fh.Size)

		report, err := a.pipeline.IngestFile(r.Context(), rows, kind)
		if err != nil {
			if errors.Is(err, ipdr.ErrInvalidRequest) {
				a.fail(w, r, err)
				return
			}
			a.logger.Error("upload aborted",
				"kind", kind,
				"filename", fh.Filename,
				"batch_id", report.BatchID,
				"accepted", report.Accepted,
				"error", err)
			a.respond(w, http.StatusInternalServerError, uploadFailure{
				Error:  "ingestion aborted: " + failureText(err),
				Report: report,
			})
			return
		}

		a.respond(w, http.StatusOK, report)
	}
}

type uploadFailure struct {
	Error  string      `json:"error"`
	Report ipdr.Report `json:"report"`
}

func failureText(err error) string {
	if errors.Is(err, ipdr.ErrStorageUnavailable) {
		return "storage unavailable"
	}
	return "request cancelled"
}
