package handler

import (
	"net/http"

	"github.com/gatehouse-dev/gatehouse/internal/errors"
)

// Verify accepts a code submission, from the emailed link (GET with the code
// in the query) or from the verify form (POST). Without a code it just
// acknowledges the pending verification so a frontend can render the form.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, &errors.ErrorWithStatusCode{Message: "Invalid form submission", StatusCode: http.StatusBadRequest})
		return
	}

	if r.Method == http.MethodGet && r.Form.Get("code") == "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Check your email for a verification code"))
		return
	}

	result, err := h.verifier.ValidateRequest(r.Context(), r.Form)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, r, result)
}
