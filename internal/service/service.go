// Package service coordinates the routing form domain: it caches form
// snapshots, validates authoring input, runs the decision engine on visitor
// submissions, and publishes change events for streaming consumers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/routz/internal/core"
	"github.com/matt-riley/routz/internal/repository"
)

const (
	EventTypeUpdated   = "updated"
	EventTypeDeleted   = "deleted"
	EventTypeSubmitted = "submitted"

	bestEffortTimeout   = 2 * time.Second
	cacheResyncInterval = time.Minute
	cacheReloadTimeout  = 5 * time.Second
)

var (
	ErrFormNotFound     = errors.New("form not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrFormInactive     = errors.New("form is inactive")
	ErrInvalidInput     = errors.New("invalid input")
)

// ValidationFailedError reports every problem with a visitor's submitted
// answers so the client can surface all field errors at once.
type ValidationFailedError struct {
	Errors []core.ValidationError
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("answer validation failed with %d error(s)", len(e.Errors))
}

type Repository interface {
	CreateForm(ctx context.Context, form repository.Form) (repository.Form, error)
	UpdateForm(ctx context.Context, form repository.Form) (repository.Form, error)
	GetForm(ctx context.Context, slug string) (repository.Form, error)
	ListForms(ctx context.Context) ([]repository.Form, error)
	DeleteForm(ctx context.Context, slug string) error
	CreateQuestion(ctx context.Context, question repository.Question) (repository.Question, error)
	UpdateQuestion(ctx context.Context, question repository.Question) (repository.Question, error)
	DeleteQuestion(ctx context.Context, formID, questionID string) error
	CreateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error)
	UpdateRule(ctx context.Context, rule repository.Rule) (repository.Rule, error)
	DeleteRule(ctx context.Context, formID string, ruleID int64) error
	LoadSnapshot(ctx context.Context, slug string) (repository.FormSnapshot, error)
	ListSnapshots(ctx context.Context) ([]repository.FormSnapshot, error)
	CreateSubmission(ctx context.Context, submission repository.Submission) (repository.Submission, error)
	ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]repository.Submission, error)
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.FormEvent, error)
	ListEventsSinceForSlug(ctx context.Context, eventID int64, slug string) ([]repository.FormEvent, error)
	PublishFormEvent(ctx context.Context, event repository.FormEvent) (repository.FormEvent, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeFormInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// SubmitResult is the outcome of one visitor submission.
type SubmitResult struct {
	SubmissionID string        `json:"submission_id"`
	Decision     core.Decision `json:"decision"`
}

type Service struct {
	repo   Repository
	log    *slog.Logger
	mu     sync.RWMutex
	cache  map[string]repository.FormSnapshot
	resync time.Duration

	onCacheLoad         func()
	onCacheInvalidation func()
	onCacheUpdate       func(size float64)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for cache reload and event publish
// failures. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCacheResyncInterval sets how often the full snapshot cache is reloaded
// as a safety net for missed invalidations. Non-positive values keep the
// default.
func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resync = interval
		}
	}
}

// WithCacheMetrics registers callbacks fired on cache loads, invalidation
// signals, and cache size changes, so the caller can export gauges without
// the service importing a metrics package. Nil callbacks are ignored.
func WithCacheMetrics(onLoad, onInvalidation func(), onUpdate func(size float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onCacheInvalidation = onInvalidation
		s.onCacheUpdate = onUpdate
	}
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:   repo,
		log:    slog.Default(),
		cache:  make(map[string]repository.FormSnapshot),
		resync: cacheResyncInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache replaces the snapshot cache with a fresh read of every form.
func (s *Service) LoadCache(ctx context.Context) error {
	snapshots, err := s.repo.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	next := make(map[string]repository.FormSnapshot, len(snapshots))
	for _, snapshot := range snapshots {
		next[snapshot.Form.Slug] = snapshot
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	if s.onCacheUpdate != nil {
		s.onCacheUpdate(float64(len(next)))
	}

	return nil
}

// CacheSize returns the number of cached form snapshots.
func (s *Service) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Service) CreateForm(ctx context.Context, form repository.Form) (repository.Form, error) {
	if err := validateFormInput(form); err != nil {
		return repository.Form{}, err
	}

	created, err := s.repo.CreateForm(ctx, form)
	if err != nil {
		return repository.Form{}, fmt.Errorf("create form: %w", err)
	}

	s.refreshSnapshot(ctx, created.Slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, created.Slug, created)

	return created, nil
}

func (s *Service) UpdateForm(ctx context.Context, form repository.Form) (repository.Form, error) {
	if err := validateFormInput(form); err != nil {
		return repository.Form{}, err
	}

	updated, err := s.repo.UpdateForm(ctx, form)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedSnapshot(form.Slug)
			return repository.Form{}, ErrFormNotFound
		}
		return repository.Form{}, fmt.Errorf("update form: %w", err)
	}

	s.refreshSnapshot(ctx, updated.Slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, updated.Slug, updated)

	return updated, nil
}

func (s *Service) GetForm(ctx context.Context, slug string) (repository.Form, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return repository.Form{}, err
	}

	return snapshot.Form, nil
}

func (s *Service) ListForms(_ context.Context) ([]repository.Form, error) {
	s.mu.RLock()
	forms := make([]repository.Form, 0, len(s.cache))
	for _, snapshot := range s.cache {
		forms = append(forms, snapshot.Form)
	}
	s.mu.RUnlock()

	sort.Slice(forms, func(i, j int) bool {
		return forms[i].Slug < forms[j].Slug
	})

	return forms, nil
}

func (s *Service) DeleteForm(ctx context.Context, slug string) error {
	existing, err := s.GetForm(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteForm(ctx, slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedSnapshot(slug)
			return ErrFormNotFound
		}
		return fmt.Errorf("delete form: %w", err)
	}

	s.deleteCachedSnapshot(slug)
	s.publishFormEventBestEffort(ctx, EventTypeDeleted, slug, existing)

	return nil
}

// GetSnapshot returns the form's cached snapshot, falling back to a
// single-transaction load on a cache miss.
func (s *Service) GetSnapshot(ctx context.Context, slug string) (repository.FormSnapshot, error) {
	if strings.TrimSpace(slug) == "" {
		return repository.FormSnapshot{}, errors.New("form slug is required")
	}

	if snapshot, ok := s.getCachedSnapshot(slug); ok {
		return snapshot, nil
	}

	snapshot, err := s.repo.LoadSnapshot(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.FormSnapshot{}, ErrFormNotFound
		}
		return repository.FormSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	s.setCachedSnapshot(snapshot)
	return snapshot, nil
}

func (s *Service) AddQuestion(ctx context.Context, slug string, question repository.Question) (repository.Question, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return repository.Question{}, err
	}
	if err := validateQuestionInput(question); err != nil {
		return repository.Question{}, err
	}

	question.FormID = snapshot.Form.ID
	created, err := s.repo.CreateQuestion(ctx, question)
	if err != nil {
		return repository.Question{}, fmt.Errorf("create question: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, created)

	return created, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, slug string, question repository.Question) (repository.Question, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return repository.Question{}, err
	}
	if err := validateQuestionInput(question); err != nil {
		return repository.Question{}, err
	}

	question.FormID = snapshot.Form.ID
	updated, err := s.repo.UpdateQuestion(ctx, question)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Question{}, ErrQuestionNotFound
		}
		return repository.Question{}, fmt.Errorf("update question: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, updated)

	return updated, nil
}

// DeleteQuestion removes a question. Rules that reference it stay in place
// and become dangling, which the evaluator skips.
func (s *Service) DeleteQuestion(ctx context.Context, slug, questionID string) error {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteQuestion(ctx, snapshot.Form.ID, questionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("delete question: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, struct {
		QuestionID string `json:"question_id"`
	}{questionID})

	return nil
}

func (s *Service) AddRule(ctx context.Context, slug string, rule repository.Rule) (repository.Rule, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return repository.Rule{}, err
	}
	if err := validateRuleInput(snapshot, rule); err != nil {
		return repository.Rule{}, err
	}

	rule.FormID = snapshot.Form.ID
	created, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return repository.Rule{}, fmt.Errorf("create rule: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, created)

	return created, nil
}

func (s *Service) UpdateRule(ctx context.Context, slug string, rule repository.Rule) (repository.Rule, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return repository.Rule{}, err
	}
	if err := validateRuleInput(snapshot, rule); err != nil {
		return repository.Rule{}, err
	}

	rule.FormID = snapshot.Form.ID
	updated, err := s.repo.UpdateRule(ctx, rule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Rule{}, ErrRuleNotFound
		}
		return repository.Rule{}, fmt.Errorf("update rule: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, updated)

	return updated, nil
}

func (s *Service) DeleteRule(ctx context.Context, slug string, ruleID int64) error {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRule(ctx, snapshot.Form.ID, ruleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("delete rule: %w", err)
	}

	s.refreshSnapshot(ctx, slug)
	s.publishFormEventBestEffort(ctx, EventTypeUpdated, slug, struct {
		RuleID int64 `json:"rule_id"`
	}{ruleID})

	return nil
}

// Submit validates a visitor's answers against the form's questions,
// evaluates the form's rules, records the submission, and returns the
// routing decision. A decision with the no-match outcome is a success.
func (s *Service) Submit(ctx context.Context, slug string, raw core.RawAnswers) (SubmitResult, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return SubmitResult{}, err
	}
	if !snapshot.Form.Active {
		return SubmitResult{}, ErrFormInactive
	}

	questions, err := snapshotQuestionsToCore(snapshot.Questions)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("decode form %q questions: %w", slug, err)
	}
	rules, err := snapshotRulesToCore(snapshot.Rules)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("decode form %q rules: %w", slug, err)
	}

	// Dangling rules are skipped during evaluation; a submission reaching
	// them is a configuration-integrity problem worth an operator warning.
	if dangling := core.DanglingRules(rules, questions); len(dangling) > 0 {
		s.log.Warn("form has rules referencing deleted questions",
			"form_slug", slug, "rule_ids", dangling)
	}

	answers, validationErrs := core.ValidateAnswers(questions, raw)
	if len(validationErrs) > 0 {
		return SubmitResult{}, &ValidationFailedError{Errors: validationErrs}
	}

	decision := core.Evaluate(answers, rules, questions)

	answersJSON, err := json.Marshal(raw)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshal answers: %w", err)
	}

	submission := repository.Submission{
		FormID:  snapshot.Form.ID,
		Answers: answersJSON,
		Outcome: string(decision.Outcome),
		Detail:  decision.Detail,
	}
	if !decision.NoMatch() {
		ruleID := decision.RuleID
		submission.RuleID = &ruleID
	}

	created, err := s.repo.CreateSubmission(ctx, submission)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("record submission: %w", err)
	}

	s.publishFormEventBestEffort(ctx, EventTypeSubmitted, slug, struct {
		SubmissionID string        `json:"submission_id"`
		Decision     core.Decision `json:"decision"`
	}{created.ID, decision})

	return SubmitResult{SubmissionID: created.ID, Decision: decision}, nil
}

// ListSubmissions returns a form's recorded submissions, newest first.
func (s *Service) ListSubmissions(ctx context.Context, slug string, limit, offset int) ([]repository.Submission, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return nil, err
	}

	submissions, err := s.repo.ListSubmissions(ctx, snapshot.Form.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	return submissions, nil
}

// DanglingRuleIDs returns the ids of the form's rules that reference a
// deleted question, for surfacing in the authoring UI.
func (s *Service) DanglingRuleIDs(ctx context.Context, slug string) ([]int64, error) {
	snapshot, err := s.GetSnapshot(ctx, slug)
	if err != nil {
		return nil, err
	}

	questions, err := snapshotQuestionsToCore(snapshot.Questions)
	if err != nil {
		return nil, fmt.Errorf("decode form %q questions: %w", slug, err)
	}
	rules, err := snapshotRulesToCore(snapshot.Rules)
	if err != nil {
		return nil, fmt.Errorf("decode form %q rules: %w", slug, err)
	}

	return core.DanglingRules(rules, questions), nil
}

func (s *Service) ListEventsSince(ctx context.Context, eventID int64) ([]repository.FormEvent, error) {
	events, err := s.repo.ListEventsSince(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

func (s *Service) ListEventsSinceForSlug(ctx context.Context, eventID int64, slug string) ([]repository.FormEvent, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, errors.New("form slug is required")
	}

	events, err := s.repo.ListEventsSinceForSlug(ctx, eventID, slug)
	if err != nil {
		return nil, fmt.Errorf("list events since %d for slug %q: %w", eventID, slug, err)
	}

	return events, nil
}

func (s *Service) getCachedSnapshot(slug string) (repository.FormSnapshot, bool) {
	s.mu.RLock()
	snapshot, ok := s.cache[slug]
	s.mu.RUnlock()

	return snapshot, ok
}

func (s *Service) setCachedSnapshot(snapshot repository.FormSnapshot) {
	s.mu.Lock()
	s.cache[snapshot.Form.Slug] = snapshot
	s.mu.Unlock()
}

func (s *Service) deleteCachedSnapshot(slug string) {
	s.mu.Lock()
	delete(s.cache, slug)
	s.mu.Unlock()
}

// refreshSnapshot reloads one form's snapshot after a mutation so reads on
// this node see the change immediately; other nodes catch up via
// LISTEN/NOTIFY.
func (s *Service) refreshSnapshot(ctx context.Context, slug string) {
	snapshot, err := s.repo.LoadSnapshot(ctx, slug)
	if err != nil {
		s.deleteCachedSnapshot(slug)
		return
	}

	s.setCachedSnapshot(snapshot)
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeFormInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resync)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeFormInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeFormInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onCacheInvalidation != nil {
					s.onCacheInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) publishFormEventBestEffort(ctx context.Context, eventType, slug string, payload any) {
	// Mutations have already committed before events are published.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := s.publishFormEvent(publishCtx, eventType, slug, payload); err != nil {
		s.log.Warn("form event publish failed", "form_slug", slug, "event_type", eventType, "error", err)
	}
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil {
		s.log.Warn("snapshot cache reload failed", "error", err)
	}
}

func (s *Service) publishFormEvent(ctx context.Context, eventType, slug string, payload any) error {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event payload: %w", eventType, err)
	}

	_, err = s.repo.PublishFormEvent(ctx, repository.FormEvent{
		FormSlug:  slug,
		EventType: eventType,
		Payload:   serialized,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	return nil
}

func validateFormInput(form repository.Form) error {
	if strings.TrimSpace(form.Slug) == "" {
		return fmt.Errorf("%w: form slug is required", ErrInvalidInput)
	}
	if strings.TrimSpace(form.Name) == "" {
		return fmt.Errorf("%w: form name is required", ErrInvalidInput)
	}

	return nil
}

func validateQuestionInput(question repository.Question) error {
	if strings.TrimSpace(question.Label) == "" {
		return fmt.Errorf("%w: question label is required", ErrInvalidInput)
	}

	questionType := core.QuestionType(question.Type)
	if !questionType.Valid() {
		return fmt.Errorf("%w: unsupported question type %q", ErrInvalidInput, question.Type)
	}

	options, err := decodeOptions(question.Options)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if questionType != core.QuestionText && len(options) == 0 {
		return fmt.Errorf("%w: %s question requires at least one option", ErrInvalidInput, question.Type)
	}

	return nil
}

func validateRuleInput(snapshot repository.FormSnapshot, rule repository.Rule) error {
	if !core.Operator(rule.Operator).Valid() {
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidInput, rule.Operator)
	}
	if !core.ActionType(rule.Action).Valid() {
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidInput, rule.Action)
	}
	if strings.TrimSpace(rule.Target) == "" {
		return fmt.Errorf("%w: rule target is required", ErrInvalidInput)
	}

	for _, question := range snapshot.Questions {
		if question.ID == rule.QuestionID {
			return nil
		}
	}

	return fmt.Errorf("%w: rule references unknown question %q", ErrInvalidInput, rule.QuestionID)
}

func snapshotQuestionsToCore(questions []repository.Question) ([]core.Question, error) {
	converted := make([]core.Question, 0, len(questions))
	for _, q := range questions {
		options, err := decodeOptions(q.Options)
		if err != nil {
			return nil, fmt.Errorf("question %q: %w", q.ID, err)
		}

		converted = append(converted, core.Question{
			ID:         q.ID,
			Label:      q.Label,
			Type:       core.QuestionType(q.Type),
			Options:    options,
			Required:   q.Required,
			OrderIndex: q.OrderIndex,
		})
	}

	return converted, nil
}

func snapshotRulesToCore(rules []repository.Rule) ([]core.Rule, error) {
	converted := make([]core.Rule, 0, len(rules))
	for _, r := range rules {
		action, err := ruleAction(r.Action, r.Target)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}

		converted = append(converted, core.Rule{
			ID:         r.ID,
			QuestionID: r.QuestionID,
			Operator:   core.Operator(r.Operator),
			Value:      r.Value,
			Action:     action,
			Priority:   r.Priority,
			Active:     r.Active,
		})
	}

	return converted, nil
}

func ruleAction(action, target string) (core.RuleAction, error) {
	switch core.ActionType(action) {
	case core.ActionRouteToBooking:
		return core.RouteToBooking(target), nil
	case core.ActionRouteToURL:
		return core.RouteToURL(target), nil
	case core.ActionShowMessage:
		return core.ShowMessage(target), nil
	default:
		return core.RuleAction{}, fmt.Errorf("unsupported action %q", action)
	}
}

func decodeOptions(payload json.RawMessage) ([]string, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var options []string
	if err := json.Unmarshal(payload, &options); err != nil {
		return nil, fmt.Errorf("invalid options: %v", err)
	}

	return options, nil
}
