package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/audit"
	"credvault.org/internal/auth"
	"credvault.org/internal/obs"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	baseURL    string

	wallet wallet.Service
	stream *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc wallet.Service, st *stream.Stream, baseURL string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		wallet:     svc,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// Весь кошелёк доступен только роли owner; сервисные токены без неё
	// (например, read-only интеграции) сюда не проходят.
	owner := RequireRole("owner")
	a.mux.Handle("/v1/credentials", owner(http.HandlerFunc(a.handleCredentialsCollection)))
	a.mux.Handle("/v1/credentials/", owner(http.HandlerFunc(a.handleCredentialResource)))

	a.mux.Handle("/v1/shares", owner(http.HandlerFunc(a.handleSharesCollection)))
	a.mux.Handle("/v1/shares/", owner(http.HandlerFunc(a.handleShareResource)))

	// Public verification endpoint; share ids are unguessable tokens.
	a.mux.HandleFunc("/v/", a.handleVerify)

	// (опционально) корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "credvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "credvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		fields["actor"] = userID
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleWalletError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidExpiry),
		errors.Is(err, wallet.ErrInvalidViewLimit),
		errors.Is(err, wallet.ErrWeakAccessCode),
		errors.Is(err, wallet.ErrInvalidFieldName),
		errors.Is(err, wallet.ErrEmptyDisclosure):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, wallet.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
