package errors

import (
	"net/http"
	"sort"
)

// default error is internal service error at handler level
// if error has different status code use ErrorWithStatusCode
type ErrorWithStatusCode struct {
	Message    string
	StatusCode int
}

func (e *ErrorWithStatusCode) Error() string {
	return e.Message
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	e, ok := err.(*ErrorWithStatusCode)
	return ok && e.StatusCode == http.StatusNotFound
}

// FormField is the pseudo field for errors that belong to the whole form
// rather than a single input (e.g. "Invalid username or password").
const FormField = ""

// FieldErrors is a user-correctable validation failure with errors scoped to
// individual form fields. It always maps to a 400-level response.
type FieldErrors struct {
	Fields     map[string][]string
	StatusCode int
}

func NewFieldError(field, message string) *FieldErrors {
	e := &FieldErrors{Fields: map[string][]string{}, StatusCode: http.StatusBadRequest}
	e.Add(field, message)
	return e
}

func (e *FieldErrors) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *FieldErrors) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *FieldErrors) Error() string {
	// deterministic: report the first field alphabetically
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(e.Fields[k]) > 0 {
			return e.Fields[k][0]
		}
	}
	return "validation failed"
}

// AsFieldErrors unwraps err into FieldErrors if it is one.
func AsFieldErrors(err error) (*FieldErrors, bool) {
	e, ok := err.(*FieldErrors)
	return e, ok
}
