// Package core implements the routing form decision engine: validating a
// visitor's answers against a form's question schema and evaluating the
// form's rules to produce a single routing decision.
//
// Everything in this package is pure. Inputs are treated as immutable
// snapshots, no I/O is performed, and every function is safe for concurrent
// use.
package core

// QuestionType identifies the input widget and answer shape of a question.
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionSelect   QuestionType = "select"
	QuestionRadio    QuestionType = "radio"
	QuestionCheckbox QuestionType = "checkbox"
)

// ScalarAnswer reports whether the question type takes a single string
// answer, as opposed to the set-valued checkbox type.
func (t QuestionType) ScalarAnswer() bool {
	return t != QuestionCheckbox
}

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionText, QuestionSelect, QuestionRadio, QuestionCheckbox:
		return true
	}
	return false
}

// Question is one input on a routing form. Options is empty for text
// questions and holds the allowed values for select, radio, and checkbox
// questions, in display order.
type Question struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Type       QuestionType `json:"type"`
	Options    []string     `json:"options,omitempty"`
	Required   bool         `json:"required"`
	OrderIndex int          `json:"order_index"`
}

// Answer is a validated answer to a single question. Exactly one of Value
// and Values is meaningful, chosen by the question's type: Value for text,
// select, and radio; Values for checkbox.
type Answer struct {
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// AnswerSet maps question ids to validated answers. Build one with
// ValidateAnswers; it is then an immutable input to Evaluate.
type AnswerSet map[string]Answer

// Operator is the comparison a rule applies to an answer.
type Operator string

const (
	OperatorEquals     Operator = "equals"
	OperatorNotEquals  Operator = "not_equals"
	OperatorContains   Operator = "contains"
	OperatorStartsWith Operator = "starts_with"
)

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorStartsWith:
		return true
	}
	return false
}

// ActionType discriminates a rule's routing action.
type ActionType string

const (
	ActionRouteToBooking ActionType = "route_to_booking"
	ActionRouteToURL     ActionType = "route_to_url"
	ActionShowMessage    ActionType = "show_message"
)

// Valid reports whether a is one of the supported action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionRouteToBooking, ActionRouteToURL, ActionShowMessage:
		return true
	}
	return false
}

// RuleAction pairs an action type with its single target so an inconsistent
// action/target combination cannot be represented. Construct with
// RouteToBooking, RouteToURL, or ShowMessage.
type RuleAction struct {
	kind   ActionType
	target string
}

// RouteToBooking routes the visitor to the booking link with the given id.
func RouteToBooking(linkID string) RuleAction {
	return RuleAction{kind: ActionRouteToBooking, target: linkID}
}

// RouteToURL redirects the visitor to an external URL.
func RouteToURL(url string) RuleAction {
	return RuleAction{kind: ActionRouteToURL, target: url}
}

// ShowMessage displays a static message to the visitor.
func ShowMessage(text string) RuleAction {
	return RuleAction{kind: ActionShowMessage, target: text}
}

// Type returns the action's discriminant.
func (a RuleAction) Type() ActionType { return a.kind }

// Target returns the action-specific target: a booking link id, a URL, or a
// message, depending on Type.
func (a RuleAction) Target() string { return a.target }

// Rule is one conditional statement owned by a routing form: if the answer
// to QuestionID satisfies Operator against Value, the rule's Action decides
// where the visitor goes. Higher Priority wins; among equal priorities the
// lowest ID wins.
type Rule struct {
	ID         int64      `json:"id"`
	QuestionID string     `json:"question_id"`
	Operator   Operator   `json:"operator"`
	Value      string     `json:"value"`
	Action     RuleAction `json:"-"`
	Priority   int        `json:"priority"`
	Active     bool       `json:"active"`
}

// Outcome classifies a Decision.
type Outcome string

const (
	OutcomeBooking Outcome = "booking"
	OutcomeURL     Outcome = "url"
	OutcomeMessage Outcome = "message"
	OutcomeNoMatch Outcome = "no_match"
)

// Decision is the engine's terminal output. Detail is the booking link id,
// URL, or message matching Outcome, and empty for OutcomeNoMatch. RuleID is
// the winning rule's id, zero for OutcomeNoMatch.
//
// OutcomeNoMatch is a first-class business result, not an error: it means no
// rule condition was satisfied and the caller should fall back to its
// default destination.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
	RuleID  int64   `json:"rule_id,omitempty"`
}

// NoMatch reports whether the decision is the no-match outcome.
func (d Decision) NoMatch() bool { return d.Outcome == OutcomeNoMatch }
