// Package server exposes the routing form engine over HTTP: an authenticated
// management API under /v1, unauthenticated public form endpoints under
// /v1/public, and an SSE change stream.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/routz/internal/core"
	"github.com/matt-riley/routz/internal/metrics"
	"github.com/matt-riley/routz/internal/repository"
	"github.com/matt-riley/routz/internal/service"
)

const (
	defaultStreamPollInterval = time.Second
	defaultMaxJSONBodyBytes   = 1 << 20
	defaultSubmissionLimit    = 50
	maxSubmissionLimit        = 500
)

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service            Service
	metrics            *metrics.Metrics
	streamPollInterval time.Duration
	maxJSONBodyBytes   int64
}

// HandlerOption configures the HTTP handler.
type HandlerOption func(*HTTPServer)

// WithMaxJSONBodySize caps the accepted JSON request body size in bytes.
func WithMaxJSONBodySize(size int64) HandlerOption {
	return func(s *HTTPServer) {
		if size > 0 {
			s.maxJSONBodyBytes = size
		}
	}
}

// submitJSONRequest is the public submission payload: question id to raw
// answer.
type submitJSONRequest struct {
	Answers core.RawAnswers `json:"answers"`
}

type publicFormResponse struct {
	Form      repository.Form       `json:"form"`
	Questions []repository.Question `json:"questions"`
}

func NewHTTPHandler(svc Service) http.Handler {
	return NewHTTPHandlerWithOptions(svc, defaultStreamPollInterval, nil)
}

func NewHTTPHandlerWithOptions(svc Service, streamPollInterval time.Duration, m *metrics.Metrics, opts ...HandlerOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	if streamPollInterval <= 0 {
		streamPollInterval = defaultStreamPollInterval
	}

	server := &HTTPServer{
		service:            svc,
		metrics:            m,
		streamPollInterval: streamPollInterval,
		maxJSONBodyBytes:   defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/forms", server.handleCreateForm)
	mux.HandleFunc("GET /v1/forms", server.handleListForms)
	mux.HandleFunc("GET /v1/forms/{slug}", server.handleGetForm)
	mux.HandleFunc("PUT /v1/forms/{slug}", server.handleUpdateForm)
	mux.HandleFunc("DELETE /v1/forms/{slug}", server.handleDeleteForm)
	mux.HandleFunc("POST /v1/forms/{slug}/questions", server.handleAddQuestion)
	mux.HandleFunc("PUT /v1/forms/{slug}/questions/{id}", server.handleUpdateQuestion)
	mux.HandleFunc("DELETE /v1/forms/{slug}/questions/{id}", server.handleDeleteQuestion)
	mux.HandleFunc("POST /v1/forms/{slug}/rules", server.handleAddRule)
	mux.HandleFunc("PUT /v1/forms/{slug}/rules/{id}", server.handleUpdateRule)
	mux.HandleFunc("DELETE /v1/forms/{slug}/rules/{id}", server.handleDeleteRule)
	mux.HandleFunc("GET /v1/forms/{slug}/submissions", server.handleListSubmissions)
	mux.HandleFunc("GET /v1/forms/{slug}/dangling-rules", server.handleDanglingRules)
	mux.HandleFunc("GET /v1/stream", server.handleStream)
	mux.HandleFunc("GET /v1/public/forms/{slug}", server.handleGetPublicForm)
	mux.HandleFunc("POST /v1/public/forms/{slug}/submit", server.handleSubmit)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	return server.withRequestMetrics(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *HTTPServer) withRequestMetrics(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(recorder.status)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func (s *HTTPServer) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var form repository.Form
	if err := s.decodeJSONBody(w, r, &form); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(form.Slug) == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	created, err := s.service.CreateForm(r.Context(), form)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetForm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	snapshot, err := s.service.GetSnapshot(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *HTTPServer) handleListForms(w http.ResponseWriter, r *http.Request) {
	forms, err := s.service.ListForms(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, forms)
}

func (s *HTTPServer) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	var form repository.Form
	if err := s.decodeJSONBody(w, r, &form); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(form.Slug) != "" && form.Slug != slug {
		writeJSONError(w, http.StatusBadRequest, "path slug and body slug must match")
		return
	}
	form.Slug = slug

	updated, err := s.service.UpdateForm(r.Context(), form)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	if err := s.service.DeleteForm(r.Context(), slug); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	var question repository.Question
	if err := s.decodeJSONBody(w, r, &question); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.AddQuestion(r.Context(), slug, question)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	questionID := strings.TrimSpace(r.PathValue("id"))
	if _, err := uuid.Parse(questionID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	var question repository.Question
	if err := s.decodeJSONBody(w, r, &question); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	question.ID = questionID

	updated, err := s.service.UpdateQuestion(r.Context(), slug, question)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	questionID := strings.TrimSpace(r.PathValue("id"))
	if _, err := uuid.Parse(questionID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	if err := s.service.DeleteQuestion(r.Context(), slug, questionID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	var rule repository.Rule
	if err := s.decodeJSONBody(w, r, &rule); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.AddRule(r.Context(), slug, rule)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	ruleID, err := parseRuleID(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var rule repository.Rule
	if err := s.decodeJSONBody(w, r, &rule); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	rule.ID = ruleID

	updated, err := s.service.UpdateRule(r.Context(), slug, rule)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	ruleID, err := parseRuleID(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.service.DeleteRule(r.Context(), slug, ruleID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))

	limit := defaultSubmissionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSubmissionLimit {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = parsed
	}

	submissions, err := s.service.ListSubmissions(r.Context(), slug, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submissions)
}

func (s *HTTPServer) handleDanglingRules(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))

	ruleIDs, err := s.service.DanglingRuleIDs(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ruleIDs == nil {
		ruleIDs = []int64{}
	}

	writeJSON(w, http.StatusOK, map[string][]int64{"rule_ids": ruleIDs})
}

func (s *HTTPServer) handleGetPublicForm(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	snapshot, err := s.service.GetSnapshot(r.Context(), slug)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Inactive forms are invisible to visitors.
	if !snapshot.Form.Active {
		writeJSONError(w, http.StatusNotFound, "form not found")
		return
	}

	writeJSON(w, http.StatusOK, publicFormResponse{
		Form:      snapshot.Form,
		Questions: snapshot.Questions,
	})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	if slug == "" {
		writeJSONError(w, http.StatusBadRequest, "slug is required")
		return
	}

	var request submitJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if request.Answers == nil {
		request.Answers = core.RawAnswers{}
	}

	result, err := s.service.Submit(r.Context(), slug, request.Answers)
	if err != nil {
		var validationErr *service.ValidationFailedError
		if errors.As(err, &validationErr) {
			if s.metrics != nil {
				s.metrics.RecordValidationFailure()
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":             "validation failed",
				"validation_errors": validationErr.Errors,
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(result.Decision.Outcome))
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	slugFilter := strings.TrimSpace(r.URL.Query().Get("form"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	listEvents := func(ctx context.Context, sinceID int64) ([]repository.FormEvent, error) {
		if slugFilter != "" {
			return s.service.ListEventsSinceForSlug(ctx, sinceID, slugFilter)
		}
		return s.service.ListEventsSince(ctx, sinceID)
	}

	currentEventID := lastEventID
	writeEvents := func(events []repository.FormEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			flusher.Flush()
		}

		return nil
	}

	initialEvents, err := listEvents(r.Context(), currentEventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := listEvents(r.Context(), currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				writeSSEError(w, flusher, serviceErrorMessage(err))
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseRuleID(value string) (int64, error) {
	ruleID, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || ruleID <= 0 {
		return 0, errors.New("invalid rule id")
	}

	return ruleID, nil
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "update", "updated":
		return "update"
	case "delete", "deleted":
		return "delete"
	case "submit", "submitted":
		return "submit"
	default:
		return ""
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrFormNotFound),
		errors.Is(err, service.ErrQuestionNotFound),
		errors.Is(err, service.ErrRuleNotFound):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, service.ErrFormInactive):
		writeJSONError(w, http.StatusConflict, serviceErrorMessage(err))
	case errors.Is(err, service.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrFormNotFound):
		return "form not found"
	case errors.Is(err, service.ErrQuestionNotFound):
		return "question not found"
	case errors.Is(err, service.ErrRuleNotFound):
		return "rule not found"
	case errors.Is(err, service.ErrFormInactive):
		return "form is inactive"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	lines := strings.Split(string(payload), "\n")
	if len(lines) == 0 {
		return []string{""}
	}

	return lines
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
