package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftpgateway/config"
	"ftpgateway/core"
)

// Handler is the single operation endpoint. POST carries a JSON body; GET
// carries query parameters and only serves read-only operations.
type Handler struct {
	gateway *core.Gateway
	maxBody int64
	log     *zap.Logger
}

func NewHandler(gw *core.Gateway, maxBody int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{gateway: gw, maxBody: maxBody, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)
	sink := newResponseSink(w)

	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if v == http.ErrAbortHandler || sink.committed {
			panic(http.ErrAbortHandler)
		}
		h.log.Error("panic while serving request", zap.String("request_id", requestID), zap.Any("panic", v))
		sink.fail(fmt.Errorf("internal error: %v", v))
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		sink.failStatus(http.StatusMethodNotAllowed,
			core.NewError(core.KindValidation, nil, "method %s is not allowed", r.Method))
		return
	}

	req, err := h.decode(w, r)
	if err == nil {
		err = h.gateway.Execute(r.Context(), requestID, req, sink)
	} else {
		h.log.Info("rejected request", zap.String("request_id", requestID), zap.Error(err))
	}
	if err != nil {
		if sink.committed {
			// Body bytes are already on the wire; only an abrupt close tells
			// the caller the download is incomplete.
			h.log.Warn("aborting response", zap.String("request_id", requestID), zap.Error(err))
			panic(http.ErrAbortHandler)
		}
		sink.fail(err)
		return
	}
	sink.finish()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*core.OperationRequest, error) {
	switch r.Method {
	case http.MethodPost:
		body := http.MaxBytesReader(w, r.Body, h.maxBody)
		var req core.OperationRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, core.NewError(core.KindValidation, err, "request body exceeds %d bytes", tooLarge.Limit)
			}
			return nil, core.NewError(core.KindValidation, err, "invalid JSON body")
		}
		return &req, nil

	case http.MethodGet:
		// The read-only restriction is checked with the command, after the
		// host has been resolved.
		return core.ParseQuery(r.URL.Query())

	default:
		return nil, core.NewError(core.KindValidation, nil, "method %s is not allowed", r.Method)
	}
}

// NewServer mounts h on the configured route behind CORS handling.
func NewServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Route, h)
	if cfg.Route != "/" {
		mux.Handle("/", h)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
