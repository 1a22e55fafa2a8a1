package core

import "testing"

func FuzzEvaluateDeterminism(f *testing.F) {
	f.Add("Sales", "Sales", uint8(0), 10, int64(3), true)
	f.Add("Support", "sales", uint8(2), -5, int64(1), false)
	f.Add("", "demo", uint8(3), 0, int64(9), true)

	f.Fuzz(func(t *testing.T, answer, ruleValue string, opSelector uint8, priority int, ruleID int64, active bool) {
		operator := OperatorEquals
		switch opSelector % 5 {
		case 1:
			operator = OperatorNotEquals
		case 2:
			operator = OperatorContains
		case 3:
			operator = OperatorStartsWith
		case 4:
			operator = Operator("unknown")
		}

		questions := []Question{
			{ID: "q1", Type: QuestionText},
			{ID: "q2", Type: QuestionCheckbox, Options: []string{answer, ruleValue}},
		}
		rules := []Rule{
			{ID: ruleID, QuestionID: "q1", Operator: operator, Value: ruleValue, Action: ShowMessage("m"), Priority: priority, Active: active},
			{ID: ruleID + 1, QuestionID: "q2", Operator: operator, Value: ruleValue, Action: RouteToURL("https://x.example"), Priority: priority, Active: active},
			{ID: ruleID + 2, QuestionID: "missing", Operator: operator, Value: ruleValue, Action: RouteToBooking("L1"), Priority: priority + 1, Active: true},
		}
		answers := AnswerSet{
			"q1": {Value: answer},
			"q2": {Values: []string{answer}},
		}

		first := Evaluate(answers, rules, questions)
		second := Evaluate(answers, rules, questions)
		if first != second {
			t.Fatalf("Evaluate() not deterministic: %+v then %+v", first, second)
		}

		// Reversing the rule slice must not change the winner.
		reversed := []Rule{rules[2], rules[1], rules[0]}
		if got := Evaluate(answers, reversed, questions); got != first {
			t.Fatalf("Evaluate() order-dependent: %+v vs %+v", got, first)
		}

		// The dangling rule must never win.
		if first.Outcome == OutcomeBooking {
			t.Fatalf("Evaluate() selected a rule with no matching question: %+v", first)
		}
	})
}

func FuzzValidateAnswersNeverPanics(f *testing.F) {
	f.Add("q1", "Sales", "Sales", true)
	f.Add("q1", "", "Support", false)
	f.Add("", "x", "y", true)

	f.Fuzz(func(t *testing.T, id, submitted, option string, required bool) {
		questions := []Question{
			{ID: id, Type: QuestionSelect, Options: []string{option}, Required: required},
			{ID: id + "-cb", Type: QuestionCheckbox, Options: []string{option}},
		}
		raw := RawAnswers{
			id:           {Value: submitted},
			id + "-cb":   {Values: []string{submitted, option}},
			"unrelated#": {Value: submitted},
		}

		answers, errs := ValidateAnswers(questions, raw)
		if len(errs) > 0 && answers != nil {
			t.Fatalf("ValidateAnswers() returned both answers and errors")
		}
	})
}
