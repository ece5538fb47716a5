package api

import (
	"net/http"
	"strconv"
)

// Kind is an API-level error class. Each Kind maps to one status and one
// fixed error title; messages never carry internal detail.
type Kind int

const (
	KindInvalidCredentials Kind = iota + 1
	KindInvalidRefreshToken
	KindRateLimitExceeded
	KindMalformedRequest
	KindUnauthenticated
	KindInternal
)

const retryAfterSeconds = 60

// FieldError is one entry of a MalformedRequest error list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Status  int          `json:"status"`
	Errors  []FieldError `json:"errors,omitempty"`
}

var kindBodies = map[Kind]errorBody{
	KindInvalidCredentials:  {Error: "Unauthorized", Message: "Invalid credentials", Status: http.StatusUnauthorized},
	KindInvalidRefreshToken: {Error: "Unauthorized", Message: "Invalid or expired refresh token", Status: http.StatusUnauthorized},
	KindRateLimitExceeded:   {Error: "Too Many Requests", Message: "Rate limit exceeded. Please try again later.", Status: http.StatusTooManyRequests},
	KindMalformedRequest:    {Error: "Bad Request", Message: "Validation failed", Status: http.StatusBadRequest},
	KindUnauthenticated:     {Error: "Unauthorized", Message: "Authentication required", Status: http.StatusUnauthorized},
	KindInternal:            {Error: "Internal Server Error", Message: "An unexpected error occurred", Status: http.StatusInternalServerError},
}

// writeError writes the fixed body of k.
func writeError(w http.ResponseWriter, k Kind) {
	body, ok := kindBodies[k]
	if !ok {
		body = kindBodies[KindInternal]
	}
	if k == KindRateLimitExceeded {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, body.Status, body)
}

// writeMalformed writes a MalformedRequest with its field list.
func writeMalformed(w http.ResponseWriter, fields []FieldError) {
	body := kindBodies[KindMalformedRequest]
	body.Errors = fields
	writeJSON(w, body.Status, body)
}
