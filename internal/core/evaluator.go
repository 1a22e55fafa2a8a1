package core

import (
	"sort"
	"strings"
)

// checkboxJoinSeparator joins a checkbox answer's selections into one string
// for the substring operators, so contains and starts_with behave uniformly
// across scalar and set-valued answers.
const checkboxJoinSeparator = ", "

// Evaluate runs the form's rules against a validated answer set and returns
// exactly one Decision.
//
// Inactive rules and rules referencing a question absent from questions are
// skipped: a dangling reference means the owner deleted a question without
// cleaning up its rules, and the visitor-facing flow must not break for
// that. The remaining rules are ordered by priority descending, ties broken
// by lowest id, so the result does not depend on the order rules are
// supplied in. The first rule whose condition matches wins; if none match
// the decision is OutcomeNoMatch.
func Evaluate(answers AnswerSet, rules []Rule, questions []Question) Decision {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	candidates := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if _, ok := byID[r.QuestionID]; !ok {
			continue
		}
		candidates = append(candidates, r)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, r := range candidates {
		if ruleMatches(r, byID[r.QuestionID], answers) {
			return decisionFor(r)
		}
	}

	return Decision{Outcome: OutcomeNoMatch}
}

// DanglingRules returns the ids of active rules whose question reference
// does not resolve in questions. Callers log these as configuration
// integrity warnings; Evaluate already skips them.
func DanglingRules(rules []Rule, questions []Question) []int64 {
	byID := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		byID[q.ID] = struct{}{}
	}

	var dangling []int64
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if _, ok := byID[r.QuestionID]; !ok {
			dangling = append(dangling, r.ID)
		}
	}
	return dangling
}

func ruleMatches(rule Rule, question Question, answers AnswerSet) bool {
	answer, ok := answers[rule.QuestionID]
	if !ok {
		return false
	}

	switch rule.Operator {
	case OperatorEquals:
		return answerEquals(question, answer, rule.Value)
	case OperatorNotEquals:
		return !answerEquals(question, answer, rule.Value)
	case OperatorContains:
		return strings.Contains(joinedLower(question, answer), strings.ToLower(rule.Value))
	case OperatorStartsWith:
		return strings.HasPrefix(joinedLower(question, answer), strings.ToLower(rule.Value))
	default:
		return false
	}
}

// answerEquals is case-sensitive: authoring-time rule values are expected to
// match option strings exactly. For checkbox answers equality means the rule
// value is one of the selections.
func answerEquals(question Question, answer Answer, value string) bool {
	if question.Type.ScalarAnswer() {
		return answer.Value == value
	}
	for _, v := range answer.Values {
		if v == value {
			return true
		}
	}
	return false
}

func joinedLower(question Question, answer Answer) string {
	if question.Type.ScalarAnswer() {
		return strings.ToLower(answer.Value)
	}
	return strings.ToLower(strings.Join(answer.Values, checkboxJoinSeparator))
}

func decisionFor(rule Rule) Decision {
	switch rule.Action.Type() {
	case ActionRouteToBooking:
		return Decision{Outcome: OutcomeBooking, Detail: rule.Action.Target(), RuleID: rule.ID}
	case ActionRouteToURL:
		return Decision{Outcome: OutcomeURL, Detail: rule.Action.Target(), RuleID: rule.ID}
	case ActionShowMessage:
		return Decision{Outcome: OutcomeMessage, Detail: rule.Action.Target(), RuleID: rule.ID}
	default:
		// Zero-value action on a matching rule; nothing sensible to route to.
		return Decision{Outcome: OutcomeNoMatch}
	}
}
