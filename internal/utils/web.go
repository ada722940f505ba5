package utils

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gatehouse-dev/gatehouse/internal/errors"
)

func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	if e, ok := err.(*errors.ErrorWithStatusCode); ok {
		http.Error(w, err.Error(), e.StatusCode)
		return
	}
	if e, ok := errors.AsFieldErrors(err); ok {
		http.Error(w, e.Error(), e.StatusCode)
		return
	}
	// default error is 500; never leak internals
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// DecodeForm populates body from urlencoded form values using `form` struct
// tags and validates it with go-playground tags. Validation failures come
// back as field-scoped errors.
func DecodeForm(values url.Values, body any) error {
	if err := decodeValues(values, body); err != nil {
		return err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(body); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return &errors.ErrorWithStatusCode{Message: "Invalid form submission", StatusCode: 400}
		}
		fieldErrs := &errors.FieldErrors{StatusCode: 400}
		for _, fe := range verrs {
			fieldErrs.Add(strings.ToLower(fe.Field()), validationMessage(fe))
		}
		return fieldErrs
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "len":
		return fmt.Sprintf("Must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "alphanum":
		return "Must contain only letters and numbers"
	case "eqfield":
		return fmt.Sprintf("Must match %s", strings.ToLower(fe.Param()))
	default:
		return "Invalid value"
	}
}

func GetIP(r *http.Request) (string, error) {
	// Only trust RemoteAddr - can't be spoofed (comes from TCP connection)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if net.ParseIP(ip) != nil {
		return ip, nil
	}
	return "", fmt.Errorf("no valid ip found")
}

// SafeRedirect returns to unchanged when it is a local path, otherwise
// fallback. Keeps redirectTo parameters from sending users off-site.
func SafeRedirect(to, fallback string) string {
	if to == "" || !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.HasPrefix(to, "/\\") {
		return fallback
	}
	return to
}
