package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/pkg/engine"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

const (
	invalidRequestCode = "invalid_request"
	unavailableCode    = "unavailable"
	timeoutCode        = "deadline_exceeded"
	internalErrorCode  = "internal_error"

	internalServerErrorMsg = "Internal Server Error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type handler struct {
	engine         *engine.Engine
	index          index.Index
	logger         logger.Logger
	requestTimeout time.Duration
}

// NewHandler returns the HTTP API of sieve: GET or POST /search runs a
// search, GET /healthz reports whether the index is ready.
func NewHandler(e *engine.Engine, idx index.Index, log logger.Logger, requestTimeout time.Duration) http.Handler {
	h := &handler{engine: e, index: idx, logger: log, requestTimeout: requestTimeout}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", h.search)
	mux.HandleFunc("POST /search", h.search)
	mux.HandleFunc("GET /healthz", h.healthz)

	return requestIDHandler(panicRecoveryHandler(mux, log))
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: invalidRequestCode, Message: err.Error()})
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	result, err := h.engine.Search(ctx, req)
	if err != nil {
		status, body := h.errorResponse(r, err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) errorResponse(r *http.Request, err error) (int, errorResponse) {
	switch {
	case engine.IsInvalidRequest(err):
		return http.StatusBadRequest, errorResponse{Code: invalidRequestCode, Message: err.Error()}
	case errors.Is(err, engine.ErrEngineClosed):
		return http.StatusServiceUnavailable, errorResponse{Code: unavailableCode, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Code: timeoutCode, Message: "search took too long"}
	default:
		h.logger.Error("search request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		return http.StatusInternalServerError, errorResponse{Code: internalErrorCode, Message: internalServerErrorMsg}
	}
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	status, err := h.index.IsReady(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "NOT_SERVING", Message: err.Error()})
		return
	}
	if !status.IsReady {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "NOT_SERVING", Message: status.Message})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "SERVING"})
}

// parseSearchRequest reads a search from the query string of a GET request,
// or from the JSON body of a POST request.
func parseSearchRequest(r *http.Request) (*engine.SearchRequest, error) {
	if r.Method == http.MethodPost {
		req := &engine.SearchRequest{}
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}

	values := r.URL.Query()
	req := &engine.SearchRequest{
		Query:    values.Get("q"),
		Strategy: values.Get("matchingStrategy"),
	}

	var err error
	if v := values.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid offset '%s'", v)
		}
	}
	if v := values.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid limit '%s'", v)
		}
	}
	if v := values.Get("explain"); v != "" {
		if req.Explain, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid explain '%s'", v)
		}
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type requestIDKey struct{}

// requestIDHandler tags every request with the id of its X-Request-Id header,
// or a new one, and echoes it in the response.
func requestIDHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// panicRecoveryHandler turns a panic of next into an internal error response.
func panicRecoveryHandler(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				l.Error("HTTP handler has recovered a panic",
					zap.String("request_id", requestIDFromContext(r.Context())),
					zap.Error(fmt.Errorf("%v", err)),
					zap.ByteString("stacktrace", debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Code: internalErrorCode, Message: internalServerErrorMsg})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
