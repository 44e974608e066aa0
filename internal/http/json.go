package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	"github.com/darstays/stayportal/internal/i18n"
)

const maxJSONBody = 1 << 20

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Message: err.Error()})
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Client disconnects can't be recovered from here.
	_, _ = buf.WriteTo(w)
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Message string
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Message})
}

// authErrorStatus maps an auth error kind to the HTTP status reported to API callers.
func authErrorStatus(kind domainauth.ErrorKind) int {
	switch kind {
	case domainauth.ErrInvalidCredentials:
		return http.StatusUnauthorized
	case domainauth.ErrUnconfirmedEmail:
		return http.StatusForbidden
	case domainauth.ErrAlreadyRegistered:
		return http.StatusConflict
	case domainauth.ErrWeakSecret:
		return http.StatusUnprocessableEntity
	case domainauth.ErrRateLimited:
		return http.StatusTooManyRequests
	case domainauth.ErrNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// asAuthError extracts an *AuthError, treating anything else as Unknown with its text.
func asAuthError(err error) *domainauth.AuthError {
	var ae *domainauth.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &domainauth.AuthError{Kind: domainauth.ErrUnknown, Message: err.Error(), Cause: err}
}

// WriteAuthError writes a localized auth failure. The code is the error kind.
func WriteAuthError(w http.ResponseWriter, cat i18n.Catalog, err error) {
	ae := asAuthError(err)
	WriteError(w, ErrorParams{Code: authErrorStatus(ae.Kind), ErrCode: string(ae.Kind), Message: cat.Error(ae)})
}
