package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sakif/reelhouse/internal/apperror"
	"github.com/sakif/reelhouse/internal/auth"
	"github.com/sakif/reelhouse/internal/validation"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a
// 4000-character message.
const maxBodyBytes = 64 << 10

// decodeJSON reads exactly one JSON object into dst, rejecting unknown
// fields, then validates dst's struct tags. Every failure is an apperror
// validation error so writeError answers 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("", "request body is required")
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("", "request body is too large")
		case errors.As(err, &typeErr):
			return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		default:
			return apperror.ValidationFailed("", "invalid JSON body: "+err.Error())
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("", "request body must contain a single JSON object")
	}
	return validation.Struct(dst)
}

// requireUserID returns the authenticated user. RequireAuth guarantees it on
// protected routes; the check keeps a mis-wired route from panicking.
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "authentication required",
		})
		return "", false
	}
	return userID, true
}
