package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
	"github.com/eugenenazirov/tapcfg/internal/storage"
	"github.com/eugenenazirov/tapcfg/internal/tapnet"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the experiment storage into HTTP handlers.
type Handler struct {
	storage storage.Storage

	clock func() time.Time

	mu        sync.RWMutex
	updatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.updatedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.storage.Get()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		resp := configResponse{
			Config:    cfg,
			Locked:    cfg.IsLocked(),
			UpdatedAt: h.currentUpdatedAt(),
		}
		writeJSON(w, http.StatusOK, resp)
	case "yaml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	default:
		writeError(w, http.StatusBadRequest, "Invalid request", fmt.Sprintf("unsupported format %q", format), "use json or yaml")
	}
}

func (h *Handler) handleGetField(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	cfg, err := h.storage.Get()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	value, err := cfg.Get(path)
	if err != nil {
		writeConfigError(w, path, err)
		return
	}

	resp := fieldResponse{
		Path:      path,
		Value:     value,
		Reference: cfg.IsRef(path),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutField(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "value is required")
		return
	}

	value, err := decodeValue(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse value")
		return
	}

	err = h.storage.Update(func(cfg *configdict.ConfigDict) error {
		return cfg.Set(path, value)
	})
	if errors.Is(err, configdict.ErrLocked) {
		writeUnknownKey(w, err, h.knownKeys(path))
		return
	}
	if err != nil {
		writeConfigError(w, path, err)
		return
	}

	h.markUpdated()

	cfg, err := h.storage.Get()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	current, err := cfg.Get(path)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := fieldResponse{
		Path:      path,
		Value:     current,
		Reference: cfg.IsRef(path),
		UpdatedAt: h.currentUpdatedAt(),
		Message:   "Configuration updated successfully",
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeValue decodes a JSON value into record values. Numbers that parse
// as integers become ints so they can be assigned to int fields.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return fromJSON(value), nil
}

func fromJSON(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := strconv.Atoi(v.String()); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = fromJSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = fromJSON(item)
		}
		return out
	default:
		return v
	}
}

// knownKeys lists the keys a write to path may use: the keys of the record
// at path when it names one, otherwise the keys beside path.
func (h *Handler) knownKeys(path string) []string {
	cfg, err := h.storage.Get()
	if err != nil {
		return nil
	}
	if d, err := cfg.Dict(path); err == nil {
		return d.Keys()
	}
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return cfg.Keys()
	}
	parent, err := cfg.Dict(path[:i])
	if err != nil {
		return nil
	}
	return parent.Keys()
}

func writeUnknownKey(w http.ResponseWriter, err error, known []string) {
	suggestion := "the config is locked; only existing keys can be assigned"
	if len(known) > 0 {
		suggestion = "known keys: " + strings.Join(known, ", ")
	}
	writeError(w, http.StatusBadRequest, "Unknown configuration key", err.Error(), suggestion)
}

func writeConfigError(w http.ResponseWriter, path string, err error) {
	switch {
	case errors.Is(err, configdict.ErrLocked):
		writeUnknownKey(w, err, nil)
	case errors.Is(err, configdict.ErrKeyNotFound), errors.Is(err, configdict.ErrNotDict):
		writeError(w, http.StatusNotFound, "Not found", fmt.Sprintf("no configuration field at %q", path))
	case errors.Is(err, configdict.ErrInvalidPath),
		errors.Is(err, configdict.ErrTypeMismatch),
		errors.Is(err, configdict.ErrUnsupportedType),
		errors.Is(err, configdict.ErrReferenceCycle):
		writeError(w, http.StatusBadRequest, "Invalid value", err.Error())
	case errors.Is(err, tapnet.ErrInvalidConfig):
		writeError(w, http.StatusUnprocessableEntity, "Invalid configuration", err.Error())
	default:
		writeInternalError(w, err)
	}
}

func (h *Handler) currentUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

func (h *Handler) markUpdated() {
	h.mu.Lock()
	h.updatedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type fieldRequest struct {
	Value json.RawMessage `json:"value"`
}

type configResponse struct {
	Config    *configdict.ConfigDict `json:"config"`
	Locked    bool                   `json:"locked"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

type fieldResponse struct {
	Path      string    `json:"path"`
	Value     any       `json:"value"`
	Reference bool      `json:"reference"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Message   string    `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
