// Package routz provides client interfaces and domain types for the routz
// routing form service.
//
// Use the sub-package to create a transport-specific client:
//
//	import routzhttp "github.com/matt-riley/routz/clients/go/http"
package routz

import (
	"context"
	"time"
)

// FormManager covers management operations on routing forms, their
// questions, and their rules. All methods require an API key.
type FormManager interface {
	CreateForm(ctx context.Context, form Form) (Form, error)
	GetForm(ctx context.Context, slug string) (FormSnapshot, error)
	ListForms(ctx context.Context) ([]Form, error)
	UpdateForm(ctx context.Context, form Form) (Form, error)
	DeleteForm(ctx context.Context, slug string) error

	AddQuestion(ctx context.Context, slug string, question Question) (Question, error)
	UpdateQuestion(ctx context.Context, slug string, question Question) (Question, error)
	DeleteQuestion(ctx context.Context, slug, questionID string) error

	AddRule(ctx context.Context, slug string, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, slug string, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, slug string, ruleID int64) error

	ListSubmissions(ctx context.Context, slug string, limit, offset int) ([]Submission, error)
	DanglingRuleIDs(ctx context.Context, slug string) ([]int64, error)
}

// Submitter covers the visitor-facing endpoints: fetching an active form
// and submitting answers for a routing decision.
type Submitter interface {
	GetPublicForm(ctx context.Context, slug string) (PublicForm, error)
	Submit(ctx context.Context, slug string, answers map[string]Answer) (SubmitResult, error)
}

// Streamer delivers real-time form change events.
// The returned channel is closed when ctx is cancelled or the connection drops.
type Streamer interface {
	Stream(ctx context.Context, opts StreamOptions) (<-chan FormEvent, error)
}

// StreamOptions configures an SSE stream subscription.
type StreamOptions struct {
	// LastEventID resumes the stream after the given event; zero starts
	// from now.
	LastEventID int64
	// FormSlug restricts the stream to events for a single form; empty
	// streams all forms.
	FormSlug string
}

// Form is the domain representation of a routing form.
type Form struct {
	ID        string
	Slug      string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Question is one input on a routing form.
type Question struct {
	ID         string
	Label      string
	Type       string // "text" | "select" | "radio" | "checkbox"
	Options    []string
	Required   bool
	OrderIndex int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rule is a priority-ordered conditional routing statement.
type Rule struct {
	ID         int64
	QuestionID string
	Operator   string // "equals" | "not_equals" | "contains" | "starts_with"
	Value      string
	Action     string // "route_to_booking" | "route_to_url" | "show_message"
	Target     string
	Priority   int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FormSnapshot is a form with its questions and rules.
type FormSnapshot struct {
	Form      Form
	Questions []Question
	Rules     []Rule
}

// PublicForm is the visitor-facing view of an active form. Rules are never
// exposed to visitors.
type PublicForm struct {
	Form      Form
	Questions []Question
}

// Answer is a visitor's answer to one question. Scalar questions use Value;
// checkbox questions use Values.
type Answer struct {
	Value  string
	Values []string
}

// Decision is the routing outcome for a submission.
type Decision struct {
	Outcome string // "booking" | "url" | "message" | "no_match"
	Detail  string
	RuleID  int64
}

// SubmitResult pairs the stored submission ID with the routing decision.
type SubmitResult struct {
	SubmissionID string
	Decision     Decision
}

// Submission is a recorded visitor submission.
type Submission struct {
	ID        string
	Answers   map[string]Answer
	Outcome   string
	Detail    string
	RuleID    *int64
	CreatedAt time.Time
}

// ValidationError describes one problem with a submitted answer.
type ValidationError struct {
	Kind       string // "missing_required_answer" | "invalid_option_value"
	QuestionID string
	Value      string
}

// FormEvent is a real-time notification of a form change or submission.
type FormEvent struct {
	Type     string // "update" | "delete" | "submit" | "error"
	FormSlug string
	Payload  []byte // raw JSON event payload, nil on error
	EventID  int64
}
