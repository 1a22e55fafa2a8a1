// Package repository provides PostgreSQL-backed persistence for routing
// forms, their questions and rules, visitor submissions, API keys, and form
// events. It also handles LISTEN/NOTIFY-based cache invalidation so the
// service layer's form snapshots stay fresh without polling.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel  = "form_events"
	defaultEventBatchSize = 1000
)

// Form is the repository-level representation of a routing form row.
type Form struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Question is one input on a routing form. Options holds a JSON array of
// allowed values; the service layer decodes it before evaluation.
type Question struct {
	ID         string          `json:"id"`
	FormID     string          `json:"-"`
	Label      string          `json:"label"`
	Type       string          `json:"type"`
	Options    json.RawMessage `json:"options"`
	Required   bool            `json:"required"`
	OrderIndex int             `json:"order_index"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Rule is one conditional routing statement. Target's meaning is
// discriminated by Action (booking link id, URL, or message); the service
// layer enforces the pairing before rows are written.
type Rule struct {
	ID         int64     `json:"id"`
	FormID     string    `json:"-"`
	QuestionID string    `json:"question_id"`
	Operator   string    `json:"operator"`
	Value      string    `json:"value"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FormSnapshot is a form with its questions and rules read at a single
// point in time. Evaluation must never mix questions and rules from
// different reads, so snapshots are always loaded inside one transaction.
type FormSnapshot struct {
	Form      Form       `json:"form"`
	Questions []Question `json:"questions"`
	Rules     []Rule     `json:"rules"`
}

// PostgresRepository implements routing form persistence backed by a
// pgxpool connection pool. It also supports LISTEN/NOTIFY for real-time
// cache invalidation.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

// Option configures a [PostgresRepository].
type Option func(*PostgresRepository)

// WithNotifyChannel sets the LISTEN/NOTIFY channel name used for form event
// notifications. Empty or whitespace values fall back to the default.
func WithNotifyChannel(channel string) Option {
	return func(r *PostgresRepository) {
		r.notifyChannel = normalizeNotifyChannel(channel)
	}
}

// WithEventBatchSize caps how many form events a single ListEventsSince call
// returns. Non-positive values fall back to the default.
func WithEventBatchSize(size int) Option {
	return func(r *PostgresRepository) {
		if size > 0 {
			r.eventBatchSize = size
		}
	}
}

// NewPostgresRepository creates a [PostgresRepository] backed by the given
// connection pool.
func NewPostgresRepository(pool *pgxpool.Pool, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		pool:           pool,
		notifyChannel:  defaultNotifyChannel,
		eventBatchSize: defaultEventBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// CreateForm inserts a new form row and returns the created record with
// server-generated id and timestamps.
func (r *PostgresRepository) CreateForm(ctx context.Context, form Form) (Form, error) {
	var created Form
	err := r.pool.QueryRow(ctx, `
		INSERT INTO forms (slug, name, active)
		VALUES ($1, $2, $3)
		RETURNING id, slug, name, active, created_at, updated_at
	`,
		form.Slug,
		form.Name,
		form.Active,
	).Scan(
		&created.ID,
		&created.Slug,
		&created.Name,
		&created.Active,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Form{}, fmt.Errorf("create form: %w", err)
	}

	return created, nil
}

// UpdateForm updates an existing form identified by slug and returns the
// updated record. Returns pgx.ErrNoRows (wrapped) if the form does not exist.
func (r *PostgresRepository) UpdateForm(ctx context.Context, form Form) (Form, error) {
	var updated Form
	err := r.pool.QueryRow(ctx, `
		UPDATE forms
		SET name = $2,
		    active = $3,
		    updated_at = NOW()
		WHERE slug = $1
		RETURNING id, slug, name, active, created_at, updated_at
	`,
		form.Slug,
		form.Name,
		form.Active,
	).Scan(
		&updated.ID,
		&updated.Slug,
		&updated.Name,
		&updated.Active,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Form{}, fmt.Errorf("update form: %w", err)
	}

	return updated, nil
}

// GetForm retrieves a single form by slug. Returns pgx.ErrNoRows (wrapped)
// if not found.
func (r *PostgresRepository) GetForm(ctx context.Context, slug string) (Form, error) {
	var form Form
	err := r.pool.QueryRow(ctx, `
		SELECT id, slug, name, active, created_at, updated_at
		FROM forms
		WHERE slug = $1
	`, slug).Scan(
		&form.ID,
		&form.Slug,
		&form.Name,
		&form.Active,
		&form.CreatedAt,
		&form.UpdatedAt,
	)
	if err != nil {
		return Form{}, fmt.Errorf("get form: %w", err)
	}

	return form, nil
}

// ListForms returns all forms ordered by slug.
func (r *PostgresRepository) ListForms(ctx context.Context) ([]Form, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, slug, name, active, created_at, updated_at
		FROM forms
		ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	forms := make([]Form, 0)
	for rows.Next() {
		var form Form
		if err := rows.Scan(
			&form.ID,
			&form.Slug,
			&form.Name,
			&form.Active,
			&form.CreatedAt,
			&form.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}

		forms = append(forms, form)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list forms rows: %w", err)
	}

	return forms, nil
}

// DeleteForm removes a form by slug along with its questions, rules, and
// submissions (ON DELETE CASCADE). Returns pgx.ErrNoRows (wrapped) if the
// form does not exist.
func (r *PostgresRepository) DeleteForm(ctx context.Context, slug string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM forms WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}

	return noRowsIfZero(commandTag, "delete form")
}

// CreateQuestion inserts a new question row for the given form.
func (r *PostgresRepository) CreateQuestion(ctx context.Context, question Question) (Question, error) {
	var created Question
	err := r.pool.QueryRow(ctx, `
		INSERT INTO questions (form_id, label, type, options, required, order_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, form_id, label, type, options, required, order_index, created_at, updated_at
	`,
		question.FormID,
		question.Label,
		question.Type,
		ensureJSON(question.Options, "[]"),
		question.Required,
		question.OrderIndex,
	).Scan(
		&created.ID,
		&created.FormID,
		&created.Label,
		&created.Type,
		&created.Options,
		&created.Required,
		&created.OrderIndex,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Question{}, fmt.Errorf("create question: %w", err)
	}

	return created, nil
}

// UpdateQuestion updates a question by id. Returns pgx.ErrNoRows (wrapped)
// if the question does not exist on the given form.
func (r *PostgresRepository) UpdateQuestion(ctx context.Context, question Question) (Question, error) {
	var updated Question
	err := r.pool.QueryRow(ctx, `
		UPDATE questions
		SET label = $3,
		    type = $4,
		    options = $5,
		    required = $6,
		    order_index = $7,
		    updated_at = NOW()
		WHERE id = $1 AND form_id = $2
		RETURNING id, form_id, label, type, options, required, order_index, created_at, updated_at
	`,
		question.ID,
		question.FormID,
		question.Label,
		question.Type,
		ensureJSON(question.Options, "[]"),
		question.Required,
		question.OrderIndex,
	).Scan(
		&updated.ID,
		&updated.FormID,
		&updated.Label,
		&updated.Type,
		&updated.Options,
		&updated.Required,
		&updated.OrderIndex,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Question{}, fmt.Errorf("update question: %w", err)
	}

	return updated, nil
}

// DeleteQuestion removes a question by id. Rules referencing it are left in
// place; the evaluator skips them and the service logs them as dangling.
func (r *PostgresRepository) DeleteQuestion(ctx context.Context, formID, questionID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		DELETE FROM questions WHERE id = $1 AND form_id = $2
	`, questionID, formID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}

	return noRowsIfZero(commandTag, "delete question")
}

// ListQuestions returns the form's questions ordered by order_index then id.
func (r *PostgresRepository) ListQuestions(ctx context.Context, formID string) ([]Question, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, form_id, label, type, options, required, order_index, created_at, updated_at
		FROM questions
		WHERE form_id = $1
		ORDER BY order_index, id
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// CreateRule inserts a new rule row for the given form.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	var created Rule
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rules (form_id, question_id, operator, value, action, target, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, form_id, question_id, operator, value, action, target, priority, active, created_at, updated_at
	`,
		rule.FormID,
		rule.QuestionID,
		rule.Operator,
		rule.Value,
		rule.Action,
		rule.Target,
		rule.Priority,
		rule.Active,
	).Scan(
		&created.ID,
		&created.FormID,
		&created.QuestionID,
		&created.Operator,
		&created.Value,
		&created.Action,
		&created.Target,
		&created.Priority,
		&created.Active,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return Rule{}, fmt.Errorf("create rule: %w", err)
	}

	return created, nil
}

// UpdateRule updates a rule by id. Returns pgx.ErrNoRows (wrapped) if the
// rule does not exist on the given form.
func (r *PostgresRepository) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	var updated Rule
	err := r.pool.QueryRow(ctx, `
		UPDATE rules
		SET question_id = $3,
		    operator = $4,
		    value = $5,
		    action = $6,
		    target = $7,
		    priority = $8,
		    active = $9,
		    updated_at = NOW()
		WHERE id = $1 AND form_id = $2
		RETURNING id, form_id, question_id, operator, value, action, target, priority, active, created_at, updated_at
	`,
		rule.ID,
		rule.FormID,
		rule.QuestionID,
		rule.Operator,
		rule.Value,
		rule.Action,
		rule.Target,
		rule.Priority,
		rule.Active,
	).Scan(
		&updated.ID,
		&updated.FormID,
		&updated.QuestionID,
		&updated.Operator,
		&updated.Value,
		&updated.Action,
		&updated.Target,
		&updated.Priority,
		&updated.Active,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return Rule{}, fmt.Errorf("update rule: %w", err)
	}

	return updated, nil
}

// DeleteRule removes a rule by id. Returns pgx.ErrNoRows (wrapped) if the
// rule does not exist on the given form.
func (r *PostgresRepository) DeleteRule(ctx context.Context, formID string, ruleID int64) error {
	commandTag, err := r.pool.Exec(ctx, `
		DELETE FROM rules WHERE id = $1 AND form_id = $2
	`, ruleID, formID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	return noRowsIfZero(commandTag, "delete rule")
}

// ListRules returns the form's rules ordered by priority descending then id.
func (r *PostgresRepository) ListRules(ctx context.Context, formID string) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, form_id, question_id, operator, value, action, target, priority, active, created_at, updated_at
		FROM rules
		WHERE form_id = $1
		ORDER BY priority DESC, id
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// LoadSnapshot reads a form with its questions and rules inside a single
// read-only transaction, so an in-flight edit can never produce a snapshot
// that mixes pre-edit and post-edit state.
func (r *PostgresRepository) LoadSnapshot(ctx context.Context, slug string) (FormSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return FormSnapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snapshot, err := loadSnapshotTx(ctx, tx, slug)
	if err != nil {
		return FormSnapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FormSnapshot{}, fmt.Errorf("commit snapshot tx: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots loads every form with its questions and rules in one
// transaction, for the service layer's eager cache load.
func (r *PostgresRepository) ListSnapshots(ctx context.Context) ([]FormSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshots tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, slug, name, active, created_at, updated_at
		FROM forms
		ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}

	forms := make([]Form, 0)
	for rows.Next() {
		var form Form
		if err := rows.Scan(&form.ID, &form.Slug, &form.Name, &form.Active, &form.CreatedAt, &form.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan form: %w", err)
		}
		forms = append(forms, form)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list forms rows: %w", err)
	}

	snapshots := make([]FormSnapshot, 0, len(forms))
	for _, form := range forms {
		questions, err := listQuestionsTx(ctx, tx, form.ID)
		if err != nil {
			return nil, err
		}
		rules, err := listRulesTx(ctx, tx, form.ID)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, FormSnapshot{Form: form, Questions: questions, Rules: rules})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshots tx: %w", err)
	}

	return snapshots, nil
}

func loadSnapshotTx(ctx context.Context, tx pgx.Tx, slug string) (FormSnapshot, error) {
	var form Form
	err := tx.QueryRow(ctx, `
		SELECT id, slug, name, active, created_at, updated_at
		FROM forms
		WHERE slug = $1
	`, slug).Scan(&form.ID, &form.Slug, &form.Name, &form.Active, &form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		return FormSnapshot{}, fmt.Errorf("get form: %w", err)
	}

	questions, err := listQuestionsTx(ctx, tx, form.ID)
	if err != nil {
		return FormSnapshot{}, err
	}

	rules, err := listRulesTx(ctx, tx, form.ID)
	if err != nil {
		return FormSnapshot{}, err
	}

	return FormSnapshot{Form: form, Questions: questions, Rules: rules}, nil
}

func listQuestionsTx(ctx context.Context, tx pgx.Tx, formID string) ([]Question, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, form_id, label, type, options, required, order_index, created_at, updated_at
		FROM questions
		WHERE form_id = $1
		ORDER BY order_index, id
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	return scanQuestions(rows)
}

func listRulesTx(ctx context.Context, tx pgx.Tx, formID string) ([]Rule, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, form_id, question_id, operator, value, action, target, priority, active, created_at, updated_at
		FROM rules
		WHERE form_id = $1
		ORDER BY priority DESC, id
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

func scanQuestions(rows pgx.Rows) ([]Question, error) {
	questions := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(
			&q.ID,
			&q.FormID,
			&q.Label,
			&q.Type,
			&q.Options,
			&q.Required,
			&q.OrderIndex,
			&q.CreatedAt,
			&q.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("questions rows: %w", err)
	}

	return questions, nil
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	rules := make([]Rule, 0)
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID,
			&rule.FormID,
			&rule.QuestionID,
			&rule.Operator,
			&rule.Value,
			&rule.Action,
			&rule.Target,
			&rule.Priority,
			&rule.Active,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules rows: %w", err)
	}

	return rules, nil
}

func noRowsIfZero(commandTag pgconn.CommandTag, operation string) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", operation, pgx.ErrNoRows)
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}
