package server

import (
	"strconv"
	"strings"
	"testing"
)

func FuzzParseLastEventID(f *testing.F) {
	f.Add("")
	f.Add("0")
	f.Add("42")
	f.Add("-1")
	f.Add("not-a-number")
	f.Add(" 17 ")
	f.Add("9223372036854775807")
	f.Add("9223372036854775808")

	f.Fuzz(func(t *testing.T, value string) {
		eventID, err := parseLastEventID(value)

		if err != nil {
			if eventID != 0 {
				t.Fatalf("parseLastEventID(%q) returned id %d with error %v", value, eventID, err)
			}
			return
		}

		if eventID < 0 {
			t.Fatalf("parseLastEventID(%q) = %d, want non-negative", value, eventID)
		}

		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			if eventID != 0 {
				t.Fatalf("parseLastEventID(%q) = %d, want 0 for empty input", value, eventID)
			}
			return
		}

		parsed, parseErr := strconv.ParseInt(trimmed, 10, 64)
		if parseErr != nil || parsed != eventID {
			t.Fatalf("parseLastEventID(%q) = %d, disagrees with ParseInt result %d (%v)", value, eventID, parsed, parseErr)
		}
	})
}

func FuzzParseRuleID(f *testing.F) {
	f.Add("")
	f.Add("1")
	f.Add("0")
	f.Add("-5")
	f.Add("abc")
	f.Add(" 33 ")
	f.Add("9223372036854775807")

	f.Fuzz(func(t *testing.T, value string) {
		ruleID, err := parseRuleID(value)

		if err != nil {
			if ruleID != 0 {
				t.Fatalf("parseRuleID(%q) returned id %d with error %v", value, ruleID, err)
			}
			return
		}

		if ruleID <= 0 {
			t.Fatalf("parseRuleID(%q) = %d, want positive id on success", value, ruleID)
		}
	})
}

func FuzzToSSEEventName(f *testing.F) {
	f.Add("updated")
	f.Add("deleted")
	f.Add("submitted")
	f.Add("UPDATE")
	f.Add(" delete ")
	f.Add("")
	f.Add("unknown")

	f.Fuzz(func(t *testing.T, eventType string) {
		name := toSSEEventName(eventType)

		switch name {
		case "", "update", "delete", "submit":
		default:
			t.Fatalf("toSSEEventName(%q) = %q, want one of update/delete/submit or empty", eventType, name)
		}

		// Event names go straight into the SSE framing, so they must never
		// carry newlines or surrounding whitespace.
		if strings.ContainsAny(name, "\r\n ") {
			t.Fatalf("toSSEEventName(%q) = %q contains framing characters", eventType, name)
		}
	})
}
