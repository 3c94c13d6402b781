// Package http provides the HTTP handlers of the credential API.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/keychain"
	"github.com/atinyakov/stripekeeper/internal/repository"
	"github.com/atinyakov/stripekeeper/internal/service"
	"github.com/atinyakov/stripekeeper/internal/storage"
)

// EncodingBase64 selects base64 transport of binary secrets.
const EncodingBase64 = "base64"

// CredentialService defines the operations required by the CredentialHandler.
type CredentialService interface {
	SetPassword(ctx context.Context, service, user, password string) error
	SetSecret(ctx context.Context, service, user string, secret []byte) error
	GetPassword(ctx context.Context, service, user string) (string, error)
	GetSecret(ctx context.Context, service, user string) ([]byte, error)
	Delete(ctx context.Context, service, user string) error
	Inspect(ctx context.Context, service, user string) (service.SnapshotView, error)
}

// CredentialHandler handles HTTP requests on /api/credentials.
type CredentialHandler struct {
	Service CredentialService
	Logger  *zap.Logger
}

// SecretBody is the JSON body of PUT requests and GET responses. Encoding
// is empty for UTF-8 text or "base64" for binary secrets.
type SecretBody struct {
	Secret   string `json:"secret"`
	Encoding string `json:"encoding,omitempty"`
}

// Put handles PUT /api/credentials/{service}/{user}.
func (h *CredentialHandler) Put(w http.ResponseWriter, r *http.Request) {
	svc, user := identity(r)

	var req SecretBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, KindInvalidArgument, "invalid body")
		return
	}

	var err error
	switch req.Encoding {
	case "":
		err = h.Service.SetPassword(r.Context(), svc, user, req.Secret)
	case EncodingBase64:
		data, decErr := base64.StdEncoding.DecodeString(req.Secret)
		if decErr != nil {
			writeProblem(w, http.StatusBadRequest, KindInvalidArgument, "invalid base64 secret")
			return
		}
		err = h.Service.SetSecret(r.Context(), svc, user, data)
	default:
		writeProblem(w, http.StatusBadRequest, KindInvalidArgument, "unknown encoding")
		return
	}
	if errors.Is(err, entry.ErrOrphanCleanup) {
		// the new secret is in place; report the leftovers without failing
		if h.Logger != nil {
			h.Logger.Warn("orphan chunks left in store", zap.String("service", svc), zap.String("user", user), zap.Error(err))
		}
		writeJSON(w, PutResult{Warning: &ErrorBody{Error: KindOrphanCleanup, Message: err.Error()}})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/credentials/{service}/{user}. The query parameter
// encoding=base64 returns the raw bytes base64 encoded.
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc, user := identity(r)

	var resp SecretBody
	switch enc := r.URL.Query().Get("encoding"); enc {
	case "":
		password, err := h.Service.GetPassword(r.Context(), svc, user)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.Secret = password
	case EncodingBase64:
		data, err := h.Service.GetSecret(r.Context(), svc, user)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp = SecretBody{Secret: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64}
	default:
		writeProblem(w, http.StatusBadRequest, KindInvalidArgument, "unknown encoding")
		return
	}

	writeJSON(w, resp)
}

// Delete handles DELETE /api/credentials/{service}/{user}.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	svc, user := identity(r)
	if err := h.Service.Delete(r.Context(), svc, user); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handles GET /api/credentials/{service}/{user}/snapshot.
func (h *CredentialHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	svc, user := identity(r)
	view, err := h.Service.Inspect(r.Context(), svc, user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, view)
}

// identity returns the unescaped {service} and {user} route parameters.
// chi matches on RawPath when the client escaped a slash, leaving the
// parameters escaped.
func identity(r *http.Request) (string, string) {
	svc, user := chi.URLParam(r, "service"), chi.URLParam(r, "user")
	if r.URL.RawPath != "" {
		if s, err := url.PathUnescape(svc); err == nil {
			svc = s
		}
		if u, err := url.PathUnescape(user); err == nil {
			user = u
		}
	}
	return svc, user
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Error kinds reported in ErrorBody.Error. Clients map them back to the
// entry errors.
const (
	KindNotFound        = "not_found"
	KindInvalidArgument = "invalid_argument"
	KindCorruptHeader   = "corrupt_header"
	KindInconsistent    = "inconsistent"
	KindBadEncoding     = "bad_encoding"
	KindTooManyChunks   = "too_many_chunks"
	KindLimitTooSmall   = "limit_too_small"
	KindEntryTooLarge   = "entry_too_large"
	KindOrphanCleanup   = "orphan_cleanup"
	KindInternal        = "internal"
)

// ErrorBody is the JSON body of error responses and of PUT warnings.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PutResult is returned with 200 when the secret was written but trailing
// chunks of the previous secret could not be removed.
type PutResult struct {
	Warning *ErrorBody `json:"warning,omitempty"`
}

// ErrorKind maps a service error to its HTTP status and error kind.
func ErrorKind(err error) (int, string) {
	switch {
	case errors.Is(err, entry.ErrOrphanCleanup):
		return http.StatusInternalServerError, KindOrphanCleanup
	case errors.Is(err, entry.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, entry.ErrInvalidArgument):
		return http.StatusBadRequest, KindInvalidArgument
	case errors.Is(err, entry.ErrCorruptHeader):
		return http.StatusConflict, KindCorruptHeader
	case errors.Is(err, entry.ErrInconsistent):
		return http.StatusConflict, KindInconsistent
	case errors.Is(err, entry.ErrBadEncoding):
		return http.StatusUnprocessableEntity, KindBadEncoding
	case errors.Is(err, entry.ErrTooManyChunks):
		return http.StatusRequestEntityTooLarge, KindTooManyChunks
	case errors.Is(err, entry.ErrLimitTooSmall):
		return http.StatusRequestEntityTooLarge, KindLimitTooSmall
	case errors.Is(err, storage.ErrEntryTooLarge),
		errors.Is(err, repository.ErrEntryTooLarge),
		errors.Is(err, keychain.ErrDataTooBig):
		return http.StatusRequestEntityTooLarge, KindEntryTooLarge
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// StatusFor maps a service error to the HTTP status reported for it.
func StatusFor(err error) int {
	status, _ := ErrorKind(err)
	return status
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: kind, Message: msg})
}

func (h *CredentialHandler) writeError(w http.ResponseWriter, err error) {
	status, kind := ErrorKind(err)
	if kind == KindInternal {
		if h.Logger != nil {
			h.Logger.Error("credential request failed", zap.Error(err))
		}
		writeProblem(w, status, kind, "internal error")
		return
	}
	writeProblem(w, status, kind, err.Error())
}
