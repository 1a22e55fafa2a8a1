package core

// ValidationErrorKind identifies the reason an answer was rejected.
type ValidationErrorKind string

const (
	// MissingRequiredAnswer means a required question was absent or empty.
	MissingRequiredAnswer ValidationErrorKind = "missing_required_answer"
	// InvalidOptionValue means a submitted value is not among the
	// question's allowed options.
	InvalidOptionValue ValidationErrorKind = "invalid_option_value"
)

// ValidationError describes one problem with a submitted answer. Value is
// set only for InvalidOptionValue.
type ValidationError struct {
	Kind       ValidationErrorKind `json:"kind"`
	QuestionID string              `json:"question_id"`
	Value      string              `json:"value,omitempty"`
}

// RawAnswer is an unvalidated answer as submitted by the visitor. Scalar
// questions read Value; checkbox questions read Values.
type RawAnswer struct {
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// RawAnswers maps question ids to unvalidated submissions.
type RawAnswers map[string]RawAnswer

// ValidateAnswers checks raw against the form's questions and returns the
// typed AnswerSet on success. All problems are accumulated and returned
// together so the caller can report every field error in one response; the
// AnswerSet is nil whenever errors are returned.
//
// Answers for question ids not present in questions are ignored rather than
// rejected, so older clients keep working after a question is removed.
func ValidateAnswers(questions []Question, raw RawAnswers) (AnswerSet, []ValidationError) {
	var errs []ValidationError
	answers := make(AnswerSet, len(questions))

	for _, q := range questions {
		ra, present := raw[q.ID]

		if q.Type.ScalarAnswer() {
			if ra.Value == "" {
				if q.Required {
					errs = append(errs, ValidationError{Kind: MissingRequiredAnswer, QuestionID: q.ID})
				}
				continue
			}
			if (q.Type == QuestionSelect || q.Type == QuestionRadio) && !optionAllowed(q.Options, ra.Value) {
				errs = append(errs, ValidationError{Kind: InvalidOptionValue, QuestionID: q.ID, Value: ra.Value})
				continue
			}
			answers[q.ID] = Answer{Value: ra.Value}
			continue
		}

		// Checkbox: every submitted value must be an allowed option.
		if !present || len(ra.Values) == 0 {
			if q.Required {
				errs = append(errs, ValidationError{Kind: MissingRequiredAnswer, QuestionID: q.ID})
			}
			continue
		}

		valid := true
		for _, v := range ra.Values {
			if !optionAllowed(q.Options, v) {
				errs = append(errs, ValidationError{Kind: InvalidOptionValue, QuestionID: q.ID, Value: v})
				valid = false
			}
		}
		if valid {
			answers[q.ID] = Answer{Values: append([]string(nil), ra.Values...)}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return answers, nil
}

func optionAllowed(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
