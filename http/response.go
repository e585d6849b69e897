package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
)

// Response is the success envelope of every JSON endpoint.
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta describes the collection held in Data.
type Meta struct {
	Count int `json:"count"`
	// Truncated is set when a budget cut the collection short.
	Truncated bool `json:"truncated,omitempty"`
}

// JSON encodes v and writes it with status. A nil v writes the status
// alone. Values that fail to encode turn into a 500.
func JSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	if v == nil {
		w.WriteHeader(status)
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		apperrors.WriteErrorWithStatus(w, http.StatusInternalServerError, apperrors.CodeInternal, "response encoding failed")
		return
	}
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func OKWithMeta(w http.ResponseWriter, data any, meta *Meta) {
	JSON(w, http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, Response{Success: true, Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error answers with the error envelope for err. 5xx responses are logged
// with the request logger since the client only sees a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if status := apperrors.StatusOf(err); status >= http.StatusInternalServerError {
		logging.FromContext(ctx).WithError(err).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
		)
	}
	apperrors.WriteError(w, err, telemetry.TraceID(ctx))
}
