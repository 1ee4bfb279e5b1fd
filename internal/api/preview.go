package api

import (
	"errors"
	"net/http"

	"github.com/embedgate/embedgate/internal/preview"
	"github.com/embedgate/embedgate/internal/source"
)

func handlePreview(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Previews == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PREVIEW_NOT_CONFIGURED", "data preview is not configured", false)
		return
	}
	var req preview.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(r.Context(), w, err)
		return
	}

	projection, err := deps.Previews.Preview(r.Context(), req)
	if errors.Is(err, source.ErrNoRows) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeAppError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}
