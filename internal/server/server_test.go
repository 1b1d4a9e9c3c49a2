package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/internal/application"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

// fakeEngine scores by answer and fails on demand.
type fakeEngine struct {
	err    error
	health application.Health
	last   domain.EvaluationRequest
}

func (f *fakeEngine) Submit(_ context.Context, req domain.EvaluationRequest) (domain.TrustScore, error) {
	f.last = req
	if f.err != nil {
		return domain.TrustScore{}, f.err
	}
	return domain.TrustScore{Score: 0.9, ScoringFunction: req.FunctionName()}, nil
}

func (f *fakeEngine) BatchEvaluate(_ context.Context, reqs []domain.EvaluationRequest) []domain.EvaluationResult {
	out := make([]domain.EvaluationResult, len(reqs))
	for i, r := range reqs {
		out[i] = domain.EvaluationResult{ID: "id-" + r.Answer, Index: i, Request: r}
		if r.Answer == "bad" {
			out[i].Err = &domain.ScoringFunctionError{Name: "x"}
			continue
		}
		out[i].Score = &domain.TrustScore{Score: 0.5}
	}
	return out
}

func (f *fakeEngine) StreamEvaluate(_ context.Context, req domain.EvaluationRequest) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 2)
	ch <- domain.StreamEvent{RequestID: "r1", Status: domain.StreamProcessing, Progress: 0.1}
	if f.err != nil {
		ch <- domain.StreamEvent{RequestID: "r1", Status: domain.StreamFailed, Progress: 1, Message: f.err.Error(), Err: f.err}
	} else {
		ch <- domain.StreamEvent{RequestID: "r1", Status: domain.StreamCompleted, Progress: 1, Result: &domain.TrustScore{Score: 0.9}}
	}
	close(ch)
	return ch
}

func (f *fakeEngine) ScoringFunctions() map[string]string {
	return map[string]string{"default": "reflection", "length_based": "length"}
}

func (f *fakeEngine) Health() application.Health { return f.health }

// streamRecorder adds the close notification gin's Stream waits on.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	s.Handler().ServeHTTP(w, req)
	return w.ResponseRecorder
}

func TestEvaluate_OK(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, Config{})

	w := do(t, s, http.MethodPost, "/v1/evaluate",
		`{"question":"q?","answer":"a","params":{"b":"2","a":"1"},"use_cache":false,"scoring_function":"strict"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.TrustScore
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 0.9, got.Score)
	assert.Equal(t, "strict", got.ScoringFunction)

	assert.True(t, engine.last.SkipCache)
	assert.Equal(t, []domain.Param{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, engine.last.Params)
}

func TestEvaluate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"validation", &domain.ValidationError{Entity: "EvaluationRequest", Errors: []string{"answer must not be empty"}}, http.StatusUnprocessableEntity, middleware.OutcomeInvalid},
		{"unknown function", &domain.ScoringFunctionError{Name: "nope"}, http.StatusBadRequest, middleware.OutcomeUnknownFunction},
		{"circuit open", domain.ErrCircuitOpen, http.StatusServiceUnavailable, middleware.OutcomeCircuitOpen},
		{"load shedding", domain.ErrLoadShedding, http.StatusTooManyRequests, middleware.OutcomeLoadShed},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, middleware.OutcomeCanceled},
		{"other", &domain.ScorerError{Function: "default", Err: errors.New("boom")}, http.StatusInternalServerError, middleware.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeEngine{err: tt.err}, Config{})
			w := do(t, s, http.MethodPost, "/v1/evaluate", `{"question":"q","answer":"a"}`)
			assert.Equal(t, tt.want, w.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestEvaluate_BadBodies(t *testing.T) {
	s := New(&fakeEngine{}, Config{})

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/v1/evaluate", `{"question":"q"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/evaluate", `{"question":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/evaluate", "").Code)
}

func TestBatch(t *testing.T) {
	s := New(&fakeEngine{}, Config{})

	w := do(t, s, http.MethodPost, "/v1/evaluate/batch",
		`{"requests":[{"question":"q","answer":"good"},{"question":"q","answer":"bad"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp batchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)

	assert.Equal(t, "id-good", resp.Results[0].ID)
	assert.Equal(t, middleware.OutcomeSuccess, resp.Results[0].Status)
	require.NotNil(t, resp.Results[0].Score)
	assert.Equal(t, 0.5, resp.Results[0].Score.Score)

	assert.Equal(t, 1, resp.Results[1].Index)
	assert.Equal(t, middleware.OutcomeUnknownFunction, resp.Results[1].Status)
	assert.Nil(t, resp.Results[1].Score)
	assert.Contains(t, resp.Results[1].Error, "unknown scoring function")
}

func TestBatch_Rejects(t *testing.T) {
	s := New(&fakeEngine{}, Config{MaxBatch: 1})

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, s, http.MethodPost, "/v1/evaluate/batch", `{"requests":[]}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, s, http.MethodPost, "/v1/evaluate/batch", `{"requests":[{"question":"q"}]}`).Code,
		"items are validated too")
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		do(t, s, http.MethodPost, "/v1/evaluate/batch", `{"requests":[{"question":"q","answer":"a"},{"question":"q","answer":"b"}]}`).Code)
}

func TestStream(t *testing.T) {
	s := New(&fakeEngine{}, Config{})
	w := do(t, s, http.MethodPost, "/v1/evaluate/stream", `{"question":"q","answer":"a"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event:processing")
	assert.Contains(t, body, "event:completed")
	assert.Less(t, strings.Index(body, "event:processing"), strings.Index(body, "event:completed"))
	assert.Contains(t, body, `"progress":1`)
}

func TestStream_Error(t *testing.T) {
	s := New(&fakeEngine{err: domain.ErrCircuitOpen}, Config{})
	w := do(t, s, http.MethodPost, "/v1/evaluate/stream", `{"question":"q","answer":"a"}`)

	body := w.Body.String()
	assert.Contains(t, body, "event:error")
	assert.Contains(t, body, "circuit breaker is open")
	assert.NotContains(t, body, "event:completed")
}

func TestScoringFunctions(t *testing.T) {
	s := New(&fakeEngine{}, Config{})
	w := do(t, s, http.MethodGet, "/v1/scoring-functions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ScoringFunctions map[string]string `json:"scoring_functions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "length", body.ScoringFunctions["length_based"])
}

func TestHealth(t *testing.T) {
	engine := &fakeEngine{health: application.Health{Breaker: "closed", ConcurrencyLimit: 100}}
	s := New(engine, Config{})

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	engine.health.Breaker = "open"
	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestMetrics(t *testing.T) {
	metrics := middleware.NewPrometheusMetrics()
	metrics.RecordCounter("evaluations_total", 1, map[string]string{"scoring_function": "default", "status": "success"})

	s := New(&fakeEngine{}, Config{}, WithGatherer(metrics.Registry()))
	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `trust_evaluations_total{scoring_function="default",status="success"} 1`)

	without := New(&fakeEngine{}, Config{})
	assert.Equal(t, http.StatusNotFound, do(t, without, http.MethodGet, "/metrics", "").Code)
}

func TestTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))
	s := New(&fakeEngine{}, Config{}, WithTracerProvider(tp))

	do(t, s, http.MethodPost, "/v1/evaluate", `{"question":"q","answer":"a"}`)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name(), "/v1/evaluate")
}

// TestRun_Shutdown tests that Run returns once its context is cancelled.
func TestRun_Shutdown(t *testing.T) {
	s := New(&fakeEngine{}, Config{Addr: "127.0.0.1:0", ShutdownGrace: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestServer_WithDetector exercises the adapter over a real detector.
func TestServer_WithDetector(t *testing.T) {
	registry := application.NewScoringRegistry()
	for _, fn := range application.BuiltinScoringFunctions(nil) {
		if fn.Scorer == nil {
			continue
		}
		require.NoError(t, registry.Register(fn.Name, fn.Description, fn.Scorer, false))
	}
	d, err := application.NewDetector(registry)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	s := New(d, Config{})
	body, _ := json.Marshal(map[string]any{
		"question":         "Is the sky blue?",
		"answer":           strings.Repeat("x", 500),
		"scoring_function": "length_based",
	})
	w := do(t, s, http.MethodPost, "/v1/evaluate", string(bytes.TrimSpace(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got domain.TrustScore
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.InDelta(t, 0.5, got.Score, 1e-9)

	w = do(t, s, http.MethodPost, "/v1/evaluate", `{"question":"q","answer":"a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no default function registered")
}
