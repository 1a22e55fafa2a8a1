package server

import (
	"context"

	"github.com/matt-riley/routz/internal/core"
	"github.com/matt-riley/routz/internal/repository"
	"github.com/matt-riley/routz/internal/service"
)

type Service interface {
	CreateForm(ctx context.Context, form repository.Form) (repository.Form, error)
	UpdateForm(ctx context.Context, form repository.Form) (repository.Form, error)
	GetForm(ctx context.Context, slug string) (repository.Form, error)
	ListForms(ctx context.Context) ([]repository.Form, error)
	DeleteForm(ctx context.Context, slug string) error
	GetSnapshot(ctx context.Context, slug string) (repository.FormSnapshot, error)
	AddQuestion(ctx context.Context, slug string, question repository.Question) (repository.Question, error)
	UpdateQuestion(ctx context.Context, slug string, question repository.Question) (repository.Question, error)
	DeleteQuestion(ctx context.Context, slug, questionID string) error
	AddRule(ctx context.Context, slug string, rule repository.Rule) (repository.Rule, error)
	UpdateRule(ctx context.Context, slug string, rule repository.Rule) (repository.Rule, error)
	DeleteRule(ctx context.Context, slug string, ruleID int64) error
	Submit(ctx context.Context, slug string, raw core.RawAnswers) (service.SubmitResult, error)
	ListSubmissions(ctx context.Context, slug string, limit, offset int) ([]repository.Submission, error)
	DanglingRuleIDs(ctx context.Context, slug string) ([]int64, error)
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.FormEvent, error)
	ListEventsSinceForSlug(ctx context.Context, eventID int64, slug string) ([]repository.FormEvent, error)
}

var _ Service = (*service.Service)(nil)
