// Package http provides an HTTP client for the routz routing form service.
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	routz "github.com/matt-riley/routz/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the routz server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format. Public endpoints
	// (GetPublicForm, Submit) work without it.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements routz.FormManager, routz.Submitter, and routz.Streamer
// over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the routz service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// -- wire types --------------------------------------------------------------

type wireForm struct {
	ID        string    `json:"id,omitempty"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type wireQuestion struct {
	ID         string          `json:"id,omitempty"`
	Label      string          `json:"label"`
	Type       string          `json:"type"`
	Options    json.RawMessage `json:"options,omitempty"`
	Required   bool            `json:"required"`
	OrderIndex int             `json:"order_index"`
	CreatedAt  time.Time       `json:"created_at,omitzero"`
	UpdatedAt  time.Time       `json:"updated_at,omitzero"`
}

type wireRule struct {
	ID         int64     `json:"id,omitempty"`
	QuestionID string    `json:"question_id"`
	Operator   string    `json:"operator"`
	Value      string    `json:"value"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

type wireSnapshot struct {
	Form      wireForm       `json:"form"`
	Questions []wireQuestion `json:"questions"`
	Rules     []wireRule     `json:"rules"`
}

type wirePublicForm struct {
	Form      wireForm       `json:"form"`
	Questions []wireQuestion `json:"questions"`
}

type wireAnswer struct {
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

type wireSubmitRequest struct {
	Answers map[string]wireAnswer `json:"answers"`
}

type wireSubmitResult struct {
	SubmissionID string `json:"submission_id"`
	Decision     struct {
		Outcome string `json:"outcome"`
		Detail  string `json:"detail"`
		RuleID  int64  `json:"rule_id"`
	} `json:"decision"`
}

type wireSubmission struct {
	ID        string          `json:"id"`
	Answers   json.RawMessage `json:"answers"`
	Outcome   string          `json:"outcome"`
	Detail    string          `json:"detail"`
	RuleID    *int64          `json:"rule_id"`
	CreatedAt time.Time       `json:"created_at"`
}

type wireErrorBody struct {
	Error            string `json:"error"`
	ValidationErrors []struct {
		Kind       string `json:"kind"`
		QuestionID string `json:"question_id"`
		Value      string `json:"value"`
	} `json:"validation_errors"`
}

// -- errors ------------------------------------------------------------------

// APIError is returned when the server responds with an HTTP error status.
// ValidationErrors is populated for 422 responses.
type APIError struct {
	StatusCode       int
	Message          string
	ValidationErrors []routz.ValidationError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("routz: HTTP %d: %s", e.StatusCode, e.Message)
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("routz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("routz: create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routz: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body wireErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		for _, ve := range body.ValidationErrors {
			apiErr.ValidationErrors = append(apiErr.ValidationErrors, routz.ValidationError{
				Kind:       ve.Kind,
				QuestionID: ve.QuestionID,
				Value:      ve.Value,
			})
		}
	}
	return apiErr
}

func decodeForm(wf wireForm) routz.Form {
	return routz.Form{
		ID:        wf.ID,
		Slug:      wf.Slug,
		Name:      wf.Name,
		Active:    wf.Active,
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
	}
}

func encodeForm(f routz.Form) wireForm {
	return wireForm{
		Slug:   f.Slug,
		Name:   f.Name,
		Active: f.Active,
	}
}

func decodeQuestion(wq wireQuestion) (routz.Question, error) {
	q := routz.Question{
		ID:         wq.ID,
		Label:      wq.Label,
		Type:       wq.Type,
		Required:   wq.Required,
		OrderIndex: wq.OrderIndex,
		CreatedAt:  wq.CreatedAt,
		UpdatedAt:  wq.UpdatedAt,
	}
	if len(wq.Options) > 0 && string(wq.Options) != "null" {
		if err := json.Unmarshal(wq.Options, &q.Options); err != nil {
			return q, fmt.Errorf("routz: decode question options: %w", err)
		}
	}
	return q, nil
}

func encodeQuestion(q routz.Question) (wireQuestion, error) {
	wq := wireQuestion{
		Label:      q.Label,
		Type:       q.Type,
		Required:   q.Required,
		OrderIndex: q.OrderIndex,
	}
	if len(q.Options) > 0 {
		b, err := json.Marshal(q.Options)
		if err != nil {
			return wq, fmt.Errorf("routz: encode question options: %w", err)
		}
		wq.Options = b
	}
	return wq, nil
}

func decodeRule(wr wireRule) routz.Rule {
	return routz.Rule{
		ID:         wr.ID,
		QuestionID: wr.QuestionID,
		Operator:   wr.Operator,
		Value:      wr.Value,
		Action:     wr.Action,
		Target:     wr.Target,
		Priority:   wr.Priority,
		Active:     wr.Active,
		CreatedAt:  wr.CreatedAt,
		UpdatedAt:  wr.UpdatedAt,
	}
}

func encodeRule(r routz.Rule) wireRule {
	return wireRule{
		QuestionID: r.QuestionID,
		Operator:   r.Operator,
		Value:      r.Value,
		Action:     r.Action,
		Target:     r.Target,
		Priority:   r.Priority,
		Active:     r.Active,
	}
}

func decodeQuestions(wqs []wireQuestion) ([]routz.Question, error) {
	questions := make([]routz.Question, 0, len(wqs))
	for _, wq := range wqs {
		q, err := decodeQuestion(wq)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func encodeAnswers(answers map[string]routz.Answer) map[string]wireAnswer {
	out := make(map[string]wireAnswer, len(answers))
	for id, a := range answers {
		out[id] = wireAnswer{Value: a.Value, Values: a.Values}
	}
	return out
}

// -- FormManager -------------------------------------------------------------

func (c *Client) CreateForm(ctx context.Context, form routz.Form) (routz.Form, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/forms", encodeForm(form))
	if err != nil {
		return routz.Form{}, err
	}
	defer resp.Body.Close()
	var out wireForm
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Form{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeForm(out), nil
}

func (c *Client) GetForm(ctx context.Context, slug string) (routz.FormSnapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/forms/"+url.PathEscape(slug), nil)
	if err != nil {
		return routz.FormSnapshot{}, err
	}
	defer resp.Body.Close()
	var out wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.FormSnapshot{}, fmt.Errorf("routz: decode response: %w", err)
	}
	questions, err := decodeQuestions(out.Questions)
	if err != nil {
		return routz.FormSnapshot{}, err
	}
	rules := make([]routz.Rule, 0, len(out.Rules))
	for _, wr := range out.Rules {
		rules = append(rules, decodeRule(wr))
	}
	return routz.FormSnapshot{
		Form:      decodeForm(out.Form),
		Questions: questions,
		Rules:     rules,
	}, nil
}

func (c *Client) ListForms(ctx context.Context) ([]routz.Form, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/forms", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []wireForm
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("routz: decode response: %w", err)
	}
	forms := make([]routz.Form, 0, len(out))
	for _, wf := range out {
		forms = append(forms, decodeForm(wf))
	}
	return forms, nil
}

func (c *Client) UpdateForm(ctx context.Context, form routz.Form) (routz.Form, error) {
	resp, err := c.do(ctx, http.MethodPut, "/v1/forms/"+url.PathEscape(form.Slug), encodeForm(form))
	if err != nil {
		return routz.Form{}, err
	}
	defer resp.Body.Close()
	var out wireForm
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Form{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeForm(out), nil
}

func (c *Client) DeleteForm(ctx context.Context, slug string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/forms/"+url.PathEscape(slug), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) AddQuestion(ctx context.Context, slug string, question routz.Question) (routz.Question, error) {
	wq, err := encodeQuestion(question)
	if err != nil {
		return routz.Question{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/forms/"+url.PathEscape(slug)+"/questions", wq)
	if err != nil {
		return routz.Question{}, err
	}
	defer resp.Body.Close()
	var out wireQuestion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Question{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeQuestion(out)
}

func (c *Client) UpdateQuestion(ctx context.Context, slug string, question routz.Question) (routz.Question, error) {
	wq, err := encodeQuestion(question)
	if err != nil {
		return routz.Question{}, err
	}
	resp, err := c.do(ctx, http.MethodPut, "/v1/forms/"+url.PathEscape(slug)+"/questions/"+url.PathEscape(question.ID), wq)
	if err != nil {
		return routz.Question{}, err
	}
	defer resp.Body.Close()
	var out wireQuestion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Question{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeQuestion(out)
}

func (c *Client) DeleteQuestion(ctx context.Context, slug, questionID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/forms/"+url.PathEscape(slug)+"/questions/"+url.PathEscape(questionID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) AddRule(ctx context.Context, slug string, rule routz.Rule) (routz.Rule, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/forms/"+url.PathEscape(slug)+"/rules", encodeRule(rule))
	if err != nil {
		return routz.Rule{}, err
	}
	defer resp.Body.Close()
	var out wireRule
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Rule{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeRule(out), nil
}

func (c *Client) UpdateRule(ctx context.Context, slug string, rule routz.Rule) (routz.Rule, error) {
	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/forms/%s/rules/%d", url.PathEscape(slug), rule.ID), encodeRule(rule))
	if err != nil {
		return routz.Rule{}, err
	}
	defer resp.Body.Close()
	var out wireRule
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.Rule{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return decodeRule(out), nil
}

func (c *Client) DeleteRule(ctx context.Context, slug string, ruleID int64) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/forms/%s/rules/%d", url.PathEscape(slug), ruleID), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) ListSubmissions(ctx context.Context, slug string, limit, offset int) ([]routz.Submission, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}
	path := "/v1/forms/" + url.PathEscape(slug) + "/submissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []wireSubmission
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("routz: decode response: %w", err)
	}
	submissions := make([]routz.Submission, 0, len(out))
	for _, ws := range out {
		s := routz.Submission{
			ID:        ws.ID,
			Outcome:   ws.Outcome,
			Detail:    ws.Detail,
			RuleID:    ws.RuleID,
			CreatedAt: ws.CreatedAt,
		}
		if len(ws.Answers) > 0 && string(ws.Answers) != "null" {
			var answers map[string]wireAnswer
			if err := json.Unmarshal(ws.Answers, &answers); err != nil {
				return nil, fmt.Errorf("routz: decode submission answers: %w", err)
			}
			s.Answers = make(map[string]routz.Answer, len(answers))
			for id, a := range answers {
				s.Answers[id] = routz.Answer{Value: a.Value, Values: a.Values}
			}
		}
		submissions = append(submissions, s)
	}
	return submissions, nil
}

func (c *Client) DanglingRuleIDs(ctx context.Context, slug string) ([]int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/forms/"+url.PathEscape(slug)+"/dangling-rules", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		RuleIDs []int64 `json:"rule_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("routz: decode response: %w", err)
	}
	return out.RuleIDs, nil
}

// -- Submitter ---------------------------------------------------------------

func (c *Client) GetPublicForm(ctx context.Context, slug string) (routz.PublicForm, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/public/forms/"+url.PathEscape(slug), nil)
	if err != nil {
		return routz.PublicForm{}, err
	}
	defer resp.Body.Close()
	var out wirePublicForm
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.PublicForm{}, fmt.Errorf("routz: decode response: %w", err)
	}
	questions, err := decodeQuestions(out.Questions)
	if err != nil {
		return routz.PublicForm{}, err
	}
	return routz.PublicForm{Form: decodeForm(out.Form), Questions: questions}, nil
}

func (c *Client) Submit(ctx context.Context, slug string, answers map[string]routz.Answer) (routz.SubmitResult, error) {
	body := wireSubmitRequest{Answers: encodeAnswers(answers)}
	resp, err := c.do(ctx, http.MethodPost, "/v1/public/forms/"+url.PathEscape(slug)+"/submit", body)
	if err != nil {
		return routz.SubmitResult{}, err
	}
	defer resp.Body.Close()
	var out wireSubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return routz.SubmitResult{}, fmt.Errorf("routz: decode response: %w", err)
	}
	return routz.SubmitResult{
		SubmissionID: out.SubmissionID,
		Decision: routz.Decision{
			Outcome: out.Decision.Outcome,
			Detail:  out.Decision.Detail,
			RuleID:  out.Decision.RuleID,
		},
	}, nil
}

// -- Streamer ----------------------------------------------------------------

// Stream connects to the SSE stream and emits FormEvents on the returned channel.
// The channel is closed when ctx is cancelled or the connection drops.
func (c *Client) Stream(ctx context.Context, opts routz.StreamOptions) (<-chan routz.FormEvent, error) {
	streamURL := c.cfg.BaseURL + "/v1/stream"
	if opts.FormSlug != "" {
		streamURL += "?form=" + url.QueryEscape(opts.FormSlug)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("routz: create stream request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if opts.LastEventID > 0 {
		req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", opts.LastEventID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routz: stream connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	ch := make(chan routz.FormEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		// Use a buffered reader with a 1 MiB buffer to handle large SSE data lines.
		br := bufio.NewReaderSize(resp.Body, 1<<20)
		parseSSE(ctx, br, ch)
	}()
	return ch, nil
}

// parseSSE reads SSE lines from r and sends parsed FormEvents to ch.
// It implements the subset of the SSE spec used by the routz server:
// id, event, data fields; blank-line flush; multi-line data concatenation.
func parseSSE(ctx context.Context, r *bufio.Reader, ch chan<- routz.FormEvent) {
	var (
		eventType string
		dataLines []string
		eventID   int64
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Blank line: dispatch event if we have data.
			if len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				ev := routz.FormEvent{
					Type:     eventType,
					EventID:  eventID,
					Payload:  []byte(data),
					FormSlug: slugFromPayload(data),
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			// Reset for next event.
			eventType = ""
			dataLines = nil
		} else if strings.HasPrefix(line, "id:") {
			fmt.Sscanf(strings.TrimSpace(strings.TrimPrefix(line, "id:")), "%d", &eventID)
		} else if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}

// slugFromPayload extracts the form slug from an event payload, checking the
// top-level slug field and then the nested form object.
func slugFromPayload(data string) string {
	var payload struct {
		Slug string `json:"slug"`
		Form struct {
			Slug string `json:"slug"`
		} `json:"form"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return ""
	}
	if payload.Slug != "" {
		return payload.Slug
	}
	return payload.Form.Slug
}
