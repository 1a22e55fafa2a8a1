package core

import (
	"reflect"
	"testing"
)

func TestValidateAnswers(t *testing.T) {
	tests := []struct {
		name      string
		questions []Question
		raw       RawAnswers
		want      AnswerSet
		wantErrs  []ValidationError
	}{
		{
			name: "valid scalar answers",
			questions: []Question{
				{ID: "q1", Type: QuestionSelect, Options: []string{"Sales", "Support"}, Required: true},
				{ID: "q2", Type: QuestionText},
			},
			raw: RawAnswers{
				"q1": {Value: "Sales"},
				"q2": {Value: "hello"},
			},
			want: AnswerSet{
				"q1": {Value: "Sales"},
				"q2": {Value: "hello"},
			},
		},
		{
			name: "value outside the option set is rejected",
			questions: []Question{
				{ID: "q1", Type: QuestionSelect, Options: []string{"Sales", "Support"}, Required: true},
			},
			raw: RawAnswers{"q1": {Value: "Billing"}},
			wantErrs: []ValidationError{
				{Kind: InvalidOptionValue, QuestionID: "q1", Value: "Billing"},
			},
		},
		{
			name: "all missing required answers are reported together",
			questions: []Question{
				{ID: "q1", Type: QuestionText, Required: true},
				{ID: "q2", Type: QuestionRadio, Options: []string{"Yes", "No"}, Required: true},
				{ID: "q3", Type: QuestionText},
			},
			raw: RawAnswers{},
			wantErrs: []ValidationError{
				{Kind: MissingRequiredAnswer, QuestionID: "q1"},
				{Kind: MissingRequiredAnswer, QuestionID: "q2"},
			},
		},
		{
			name: "empty string counts as missing for required questions",
			questions: []Question{
				{ID: "q1", Type: QuestionText, Required: true},
			},
			raw: RawAnswers{"q1": {Value: ""}},
			wantErrs: []ValidationError{
				{Kind: MissingRequiredAnswer, QuestionID: "q1"},
			},
		},
		{
			name: "empty optional text is simply omitted",
			questions: []Question{
				{ID: "q1", Type: QuestionText},
			},
			raw:  RawAnswers{"q1": {Value: ""}},
			want: AnswerSet{},
		},
		{
			name: "checkbox values must all be allowed options",
			questions: []Question{
				{ID: "q3", Type: QuestionCheckbox, Options: []string{"Email", "Slack"}},
			},
			raw: RawAnswers{"q3": {Values: []string{"Email", "Fax", "Carrier Pigeon"}}},
			wantErrs: []ValidationError{
				{Kind: InvalidOptionValue, QuestionID: "q3", Value: "Fax"},
				{Kind: InvalidOptionValue, QuestionID: "q3", Value: "Carrier Pigeon"},
			},
		},
		{
			name: "valid checkbox selection",
			questions: []Question{
				{ID: "q3", Type: QuestionCheckbox, Options: []string{"Email", "Slack"}, Required: true},
			},
			raw:  RawAnswers{"q3": {Values: []string{"Slack"}}},
			want: AnswerSet{"q3": {Values: []string{"Slack"}}},
		},
		{
			name: "empty checkbox set counts as missing when required",
			questions: []Question{
				{ID: "q3", Type: QuestionCheckbox, Options: []string{"Email", "Slack"}, Required: true},
			},
			raw: RawAnswers{"q3": {Values: []string{}}},
			wantErrs: []ValidationError{
				{Kind: MissingRequiredAnswer, QuestionID: "q3"},
			},
		},
		{
			name: "unknown question ids are ignored",
			questions: []Question{
				{ID: "q1", Type: QuestionText},
			},
			raw: RawAnswers{
				"q1":      {Value: "hi"},
				"removed": {Value: "whatever"},
			},
			want: AnswerSet{"q1": {Value: "hi"}},
		},
		{
			name: "missing and invalid errors accumulate in one call",
			questions: []Question{
				{ID: "q1", Type: QuestionSelect, Options: []string{"A"}, Required: true},
				{ID: "q2", Type: QuestionText, Required: true},
			},
			raw: RawAnswers{"q1": {Value: "B"}},
			wantErrs: []ValidationError{
				{Kind: InvalidOptionValue, QuestionID: "q1", Value: "B"},
				{Kind: MissingRequiredAnswer, QuestionID: "q2"},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, errs := ValidateAnswers(test.questions, test.raw)

			if len(test.wantErrs) > 0 {
				if got != nil {
					t.Fatalf("ValidateAnswers() answers = %#v, want nil on error", got)
				}
				if !reflect.DeepEqual(errs, test.wantErrs) {
					t.Fatalf("ValidateAnswers() errors = %#v, want %#v", errs, test.wantErrs)
				}
				return
			}

			if len(errs) > 0 {
				t.Fatalf("ValidateAnswers() errors = %#v, want none", errs)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Fatalf("ValidateAnswers() = %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestValidateAnswersDoesNotAliasInput(t *testing.T) {
	questions := []Question{
		{ID: "q3", Type: QuestionCheckbox, Options: []string{"A", "B"}},
	}
	values := []string{"A", "B"}
	answers, errs := ValidateAnswers(questions, RawAnswers{"q3": {Values: values}})
	if len(errs) > 0 {
		t.Fatalf("ValidateAnswers() errors = %#v, want none", errs)
	}

	values[0] = "mutated"
	if answers["q3"].Values[0] != "A" {
		t.Fatalf("answer values = %v, want copy unaffected by caller mutation", answers["q3"].Values)
	}
}
