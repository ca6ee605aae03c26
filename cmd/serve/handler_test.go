package serve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sievesearch/sieve/pkg/engine"
	"github.com/sievesearch/sieve/pkg/index/memory"
	"github.com/sievesearch/sieve/pkg/index/test"
	"github.com/sievesearch/sieve/pkg/logger"
)

func newTestHandler(t *testing.T) (http.Handler, *engine.Engine, *memory.MemoryIndex) {
	t.Helper()
	idx := memory.New()
	t.Cleanup(idx.Close)
	require.NoError(t, idx.WriteDocuments(context.Background(), test.Corpus()))

	e := engine.New(idx)
	t.Cleanup(e.Close)

	return NewHandler(e, idx, logger.NewNoopLogger(), 0), e, idx
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func hitIDs(body string) []int64 {
	var ids []int64
	for _, id := range gjson.Get(body, "hits.#.id").Array() {
		ids = append(ids, id.Int())
	}
	return ids
}

func TestSearchHandler(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name           string
		method         string
		target         string
		body           string
		expectedStatus int
		expectedIDs    []int64
		expectedCode   string
	}{
		{
			name:           "get",
			method:         http.MethodGet,
			target:         "/search?q=quick+brown+fox",
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{1, 2, 3, 4},
		},
		{
			name:           "get_with_paging_and_strategy",
			method:         http.MethodGet,
			target:         "/search?q=quick+fox&matchingStrategy=last&offset=1&limit=2",
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{3, 2},
		},
		{
			name:           "post",
			method:         http.MethodPost,
			target:         "/search",
			body:           `{"q": "quick brown fox", "matchingStrategy": "all"}`,
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{1},
		},
		{
			name:           "invalid_limit",
			method:         http.MethodGet,
			target:         "/search?q=fox&limit=ten",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   invalidRequestCode,
		},
		{
			name:           "invalid_explain",
			method:         http.MethodGet,
			target:         "/search?q=fox&explain=maybe",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   invalidRequestCode,
		},
		{
			name:           "unknown_strategy",
			method:         http.MethodGet,
			target:         "/search?q=fox&matchingStrategy=frequency",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   invalidRequestCode,
		},
		{
			name:           "negative_offset",
			method:         http.MethodPost,
			target:         "/search",
			body:           `{"q": "fox", "offset": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   invalidRequestCode,
		},
		{
			name:           "unknown_body_field",
			method:         http.MethodPost,
			target:         "/search",
			body:           `{"query": "fox"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   invalidRequestCode,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := serve(h, test.method, test.target, test.body)

			require.Equal(t, test.expectedStatus, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if test.expectedCode != "" {
				require.Equal(t, test.expectedCode, gjson.Get(rec.Body.String(), "code").String())
				return
			}
			require.Equal(t, test.expectedIDs, hitIDs(rec.Body.String()))
		})
	}
}

func TestSearchHandlerExplain(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/search?q=quick+fox&explain=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	kinds := gjson.Get(rec.Body.String(), "explain.#.kind").Array()
	require.NotEmpty(t, kinds)
	require.Equal(t, "initial_query", kinds[0].String())
}

func TestSearchHandlerClosedEngine(t *testing.T) {
	h, e, _ := newTestHandler(t)
	e.Close()

	rec := serve(h, http.MethodGet, "/search?q=fox", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, unavailableCode, gjson.Get(rec.Body.String(), "code").String())
}

func TestSearchHandlerMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodDelete, "/search", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	h, _, idx := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SERVING", gjson.Get(rec.Body.String(), "status").String())

	idx.Close()

	rec = serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "NOT_SERVING", gjson.Get(rec.Body.String(), "status").String())
	require.Equal(t, "index is closed", gjson.Get(rec.Body.String(), "message").String())
}

func TestRequestID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := serve(h, http.MethodGet, "/healthz", "")
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "my-request")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "my-request", rec.Header().Get(requestIDHeader))
}

func TestPanicRecoveryHandler(t *testing.T) {
	log, logs := logger.NewObserverLogger("error")
	h := requestIDHandler(panicRecoveryHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), log))

	rec := serve(h, http.MethodGet, "/search", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, internalErrorCode, gjson.Get(rec.Body.String(), "code").String())
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "HTTP handler has recovered a panic", logs.All()[0].Message)
}
