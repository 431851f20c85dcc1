// internal/httpapi/respond.go
//
// Response and request plumbing shared by every handler: JSON envelopes,
// the error-to-status mapping, body decoding with struct validation, and
// small extractors for path ids, If-Match tokens, and list parameters.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/groundplan/groundplan/internal/metrics"
	"github.com/groundplan/groundplan/internal/store"
)

// validate is the package-level singleton; validator instances cache
// struct metadata, so sharing one is both the fast and the idiomatic way.
var validate = validator.New()

// errorBody is the wire form of every failure.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warnw("response encode failed", "err", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, code, msg string) {
	a.writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// fail maps the store taxonomy onto HTTP statuses.  entity feeds the
// conflict counter and the log line, nothing else.
func (a *API) fail(w http.ResponseWriter, entity string, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		a.writeError(w, http.StatusBadRequest, "invalid_input", verr.Error())
	case errors.Is(err, store.ErrInvalidCursor):
		a.writeError(w, http.StatusBadRequest, "invalid_cursor", "cursor is malformed")
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "not_found", entity+" not found")
	case errors.Is(err, store.ErrConflict):
		metrics.WriteConflictsTotal.WithLabelValues(entity).Inc()
		a.writeError(w, http.StatusConflict, "version_conflict",
			"version token missing or stale; re-read the resource and retry")
	case errors.Is(err, store.ErrExpired):
		a.writeError(w, http.StatusGone, "expired", "share link has expired")
	case errors.Is(err, store.ErrRevoked):
		a.writeError(w, http.StatusGone, "revoked", "share link has been revoked")
	case errors.Is(err, store.ErrIndeterminate):
		a.writeError(w, http.StatusGatewayTimeout, "indeterminate",
			"the operation may or may not have applied; re-read before retrying")
	default:
		a.log.Errorw("unhandled error", "entity", entity, "err", err)
		a.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode unmarshals and validates a request body into dst.  A returned
// false means the response is already written.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}

// urlID pulls the {id} path parameter.  A returned false means the
// response is already written.
func (a *API) urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, "invalid_input", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// ifMatch returns the raw If-Match token.  Absence is not an error here;
// the repository treats an empty token as a failed precondition.
func ifMatch(r *http.Request) string {
	return r.Header.Get("If-Match")
}

// listParams extracts cursor and limit.  Limit syntax errors are client
// errors; range enforcement belongs to the repository's pager.
func (a *API) listParams(w http.ResponseWriter, r *http.Request) (cursor string, limit int, ok bool) {
	q := r.URL.Query()
	cursor = q.Get("cursor")
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid_input", "limit must be an integer")
			return "", 0, false
		}
		limit = n
	}
	return cursor, limit, true
}

// queryID parses an optional numeric query parameter, 0 when absent.
func (a *API) queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, http.StatusBadRequest, "invalid_input", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
