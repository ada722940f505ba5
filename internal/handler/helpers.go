package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gatehouse-dev/gatehouse/internal/domain"
	"github.com/gatehouse-dev/gatehouse/internal/errors"
	"github.com/gatehouse-dev/gatehouse/internal/logger"
	"github.com/gatehouse-dev/gatehouse/internal/otp"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/utils"
)

func otpauthURI(issuer, account string, v domain.Verification) string {
	return otp.KeyURI(issuer, account, otp.Params{
		Secret:    v.Secret,
		Algorithm: v.Algorithm,
		Digits:    v.Digits,
		Period:    v.Period,
		CharSet:   v.CharSet,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error("failed to encode response", "error", err)
	}
}

// writeFieldErrors renders a validation failure as a field → messages map, so
// a form frontend can attach each message to its input. The "" key holds
// form-level errors.
func writeFieldErrors(w http.ResponseWriter, status int, fields map[string][]string) {
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{"errors": fields})
}

// writeError dispatches between field-scoped validation errors and plain
// status errors.
func writeError(w http.ResponseWriter, err error) {
	if fields, ok := errors.AsFieldErrors(err); ok {
		writeFieldErrors(w, fields.StatusCode, fields.Fields)
		return
	}
	utils.WriteErrorAndStatusCode(w, err)
}

// writeResult interprets a verification engine outcome at the HTTP boundary.
func writeResult(w http.ResponseWriter, r *http.Request, result service.Result) {
	for _, cookie := range result.Cookies {
		http.SetCookie(w, cookie)
	}
	if result.Redirect != "" {
		http.Redirect(w, r, result.Redirect, result.Status)
		return
	}
	writeFieldErrors(w, result.Status, result.Fields)
}

// decodeForm parses the urlencoded body merged with query parameters.
func decodeForm(r *http.Request, body interface{}) error {
	if err := r.ParseForm(); err != nil {
		return &errors.ErrorWithStatusCode{Message: "Invalid form submission", StatusCode: http.StatusBadRequest}
	}
	return utils.DecodeForm(r.Form, body)
}

// withRedirectTo appends a redirectTo parameter when present.
func withRedirectTo(path, redirectTo string) string {
	if redirectTo == "" {
		return path
	}
	return path + "?" + url.Values{"redirectTo": {redirectTo}}.Encode()
}
