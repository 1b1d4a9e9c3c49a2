package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/internal/domain"
)

// evaluateRequest is the JSON body of an evaluation. Params is a flat map on
// the wire and becomes a key-sorted list on the request.
type evaluateRequest struct {
	Question        string            `json:"question" binding:"required"`
	Answer          string            `json:"answer" binding:"required"`
	Context         string            `json:"context"`
	ScoringFunction string            `json:"scoring_function"`
	Params          map[string]string `json:"params"`
	UseCache        *bool             `json:"use_cache"`
}

func (r evaluateRequest) toDomain() domain.EvaluationRequest {
	req := domain.EvaluationRequest{
		Question:        r.Question,
		Answer:          r.Answer,
		Context:         r.Context,
		ScoringFunction: r.ScoringFunction,
		SkipCache:       r.UseCache != nil && !*r.UseCache,
	}
	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			req.Params = append(req.Params, domain.Param{Key: k, Value: r.Params[k]})
		}
	}
	return req
}

type batchRequest struct {
	Requests []evaluateRequest `json:"requests" binding:"required,min=1,dive"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type batchItem struct {
	ID     string             `json:"id"`
	Index  int                `json:"index"`
	Status string             `json:"status"`
	Score  *domain.TrustScore `json:"score,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type batchResponse struct {
	Results   []batchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// statusFor maps an evaluation error to an HTTP status.
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnknownScoringFunction):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrSchedulerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrLoadShedding):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorResponse{Error: err.Error(), Code: middleware.Outcome(nil, err)})
}

// bind decodes the body. Missing required fields are 422 like domain
// validation failures; malformed JSON is 400.
func bind(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: middleware.OutcomeInvalid})
		return false
	}
	msg := err.Error()
	if errors.Is(err, io.EOF) {
		msg = "request body is empty"
	}
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
	return false
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var body evaluateRequest
	if !bind(c, &body) {
		return
	}
	score, err := s.engine.Submit(c.Request.Context(), body.toDomain())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) handleBatch(c *gin.Context) {
	var body batchRequest
	if !bind(c, &body) {
		return
	}
	if len(body.Requests) > s.config.MaxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Error: "batch exceeds the maximum size",
			Code:  "batch_too_large",
		})
		return
	}

	reqs := make([]domain.EvaluationRequest, len(body.Requests))
	for i, r := range body.Requests {
		reqs[i] = r.toDomain()
	}
	results := s.engine.BatchEvaluate(c.Request.Context(), reqs)

	resp := batchResponse{Results: make([]batchItem, len(results))}
	for i, res := range results {
		item := batchItem{ID: res.ID, Index: res.Index, Score: res.Score, Status: middleware.Outcome(res.Score, res.Err)}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results[i] = item
	}
	c.JSON(http.StatusOK, resp)
}

// handleStream sends one server-sent event per progress update, named by
// the event status.
func (s *Server) handleStream(c *gin.Context) {
	var body evaluateRequest
	if !bind(c, &body) {
		return
	}
	events := s.engine.StreamEvaluate(c.Request.Context(), body.toDomain())

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Status), ev)
		return !ev.Terminal()
	})
}

func (s *Server) handleScoringFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scoring_functions": s.engine.ScoringFunctions()})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.engine.Health()
	status, code := "ok", http.StatusOK
	if !h.Healthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "detail": h})
}
