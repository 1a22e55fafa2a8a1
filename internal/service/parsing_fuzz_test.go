package service

import (
	"encoding/json"
	"testing"

	"github.com/matt-riley/routz/internal/core"
)

func FuzzDecodeOptions(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte(`[]`))
	f.Add([]byte(`["1-10","11-50","51+"]`))
	f.Add([]byte(`{"invalid":true}`))
	f.Add([]byte(`["unterminated`))

	f.Fuzz(func(t *testing.T, payload []byte) {
		options, err := decodeOptions(json.RawMessage(payload))
		if len(payload) == 0 {
			if err != nil || options != nil {
				t.Fatalf("decodeOptions(empty) = (%v, %v), want (nil, nil)", options, err)
			}
			return
		}

		if err != nil && options != nil {
			t.Fatalf("decodeOptions(%q) returned options alongside error %v", payload, err)
		}

		if err == nil {
			var check []string
			if unmarshalErr := json.Unmarshal(payload, &check); unmarshalErr != nil {
				t.Fatalf("decodeOptions(%q) accepted payload the decoder rejects: %v", payload, unmarshalErr)
			}
		}
	})
}

func FuzzRuleAction(f *testing.F) {
	f.Add("route_to_booking", "enterprise-call")
	f.Add("route_to_url", "https://example.com/help")
	f.Add("show_message", "thanks, we will be in touch")
	f.Add("route_to_slack", "#sales")
	f.Add("", "")

	f.Fuzz(func(t *testing.T, action, target string) {
		got, err := ruleAction(action, target)
		if err != nil {
			if got != (core.RuleAction{}) {
				t.Fatalf("ruleAction(%q, %q) returned non-zero action alongside error", action, target)
			}
			return
		}

		if string(got.Type()) != action {
			t.Fatalf("ruleAction(%q, %q).Type() = %q", action, target, got.Type())
		}
		if got.Target() != target {
			t.Fatalf("ruleAction(%q, %q).Target() = %q", action, target, got.Target())
		}
	})
}
