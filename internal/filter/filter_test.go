package filter

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/sipico/comms-gateway/internal/storage"
)

func defaultFilters() []*storage.ContentFilter {
	out := make([]*storage.ContentFilter, len(storage.DefaultFilters))
	for i := range storage.DefaultFilters {
		f := storage.DefaultFilters[i]
		f.ID = int64(i + 1)
		out[i] = &f
	}
	return out
}

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if n := e.Reload(defaultFilters()); n != 4 {
		t.Fatalf("Reload returned %d, want 4", n)
	}
	return e
}

func TestCheckDefaultFilters(t *testing.T) {
	t.Parallel()
	e := newDefaultEngine(t)

	tests := []struct {
		name    string
		text    string
		verdict Verdict
		filter  string
	}{
		{"clean", "See you at noon", Passed, ""},
		{"ssn", "my number is 123-45-6789 ok", Denied, "Social Security Number pattern (XXX-XX-XXXX)"},
		{"credit card", "card 4111 1111 1111 1111", Denied, "Credit card number pattern (16 digits)"},
		{"password", "the wifi password is hunter2", Flagged, "Message contains the word 'password'"},
		{"password upper", "PASSWORD reset", Flagged, "Message contains the word 'password'"},
		{"secret assignment", "API_KEY = abc123", Denied, "API key or secret assignment pattern"},
		{"deny beats flag", "password: 123-45-6789", Denied, "Social Security Number pattern (XXX-XX-XXXX)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Check(tt.text)
			if res.Verdict != tt.verdict {
				t.Fatalf("Check(%q) verdict = %s, want %s", tt.text, res.Verdict, tt.verdict)
			}
			if res.Name != tt.filter {
				t.Errorf("Check(%q) name = %q, want %q", tt.text, res.Name, tt.filter)
			}
		})
	}
}

func TestDenyOrderedBeforeFlag(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)

	// The flag filter is listed first but deny filters must win.
	e.Reload([]*storage.ContentFilter{
		{ID: 1, Pattern: "invoice", PatternType: storage.PatternLiteral, Action: storage.ActionFlag, Description: "flag invoice", Enabled: true},
		{ID: 2, Pattern: "invoice", PatternType: storage.PatternLiteral, Action: storage.ActionDeny, Description: "deny invoice", Enabled: true},
	})

	res := e.Check("Invoice attached")
	if res.Verdict != Denied || res.Name != "deny invoice" {
		t.Errorf("Check = %+v, want deny invoice", res)
	}
}

func TestReloadSkipsInvalidFilters(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	e := NewEngine(slog.New(slog.NewTextHandler(&logs, nil)))

	n := e.Reload([]*storage.ContentFilter{
		{ID: 1, Pattern: "([unclosed", PatternType: storage.PatternRegex, Action: storage.ActionDeny, Enabled: true},
		{ID: 2, Pattern: "x", PatternType: "glob", Action: storage.ActionDeny, Enabled: true},
		{ID: 3, Pattern: "x", PatternType: storage.PatternLiteral, Action: "quarantine", Enabled: true},
		{ID: 4, Pattern: "disabled", PatternType: storage.PatternLiteral, Action: storage.ActionDeny, Enabled: false},
		{ID: 5, Pattern: "ok", PatternType: storage.PatternLiteral, Action: storage.ActionFlag, Enabled: true},
	})

	if n != 1 || e.Len() != 1 {
		t.Fatalf("Reload = %d, Len = %d, want 1", n, e.Len())
	}
	if got := strings.Count(logs.String(), "skipping invalid content filter"); got != 3 {
		t.Errorf("logged %d warnings, want 3:\n%s", got, logs.String())
	}
	if res := e.Check("disabled"); res.Verdict != Passed {
		t.Errorf("disabled filter matched: %+v", res)
	}
}

func TestFilterNameFallback(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	e.Reload([]*storage.ContentFilter{
		{ID: 7, Pattern: "wire", PatternType: storage.PatternLiteral, Action: storage.ActionFlag, Enabled: true},
	})

	res := e.Check("please wire the money")
	if res.Name != "filter 7" || res.Description != "Filter 7" {
		t.Errorf("Result = %+v", res)
	}
}

func TestCheckEmail(t *testing.T) {
	t.Parallel()
	e := newDefaultEngine(t)

	subject := "Your password"
	res := e.CheckEmail(&subject, "SSN 123-45-6789")
	if res.Verdict != Flagged {
		t.Errorf("subject should be checked first, got %+v", res)
	}

	clean := "Lunch"
	if res := e.CheckEmail(&clean, "SSN 123-45-6789"); res.Verdict != Denied {
		t.Errorf("body should be checked after a clean subject, got %+v", res)
	}
	if res := e.CheckEmail(nil, "hi"); res.Verdict != Passed {
		t.Errorf("nil subject and clean body = %+v", res)
	}
}

func TestEmptyEngine(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	if e.Len() != 0 {
		t.Errorf("Len = %d, want 0", e.Len())
	}
	if res := e.Check("123-45-6789"); res.Verdict != Passed {
		t.Errorf("empty engine should pass everything, got %+v", res)
	}
}

func TestConcurrentReloadAndCheck(t *testing.T) {
	t.Parallel()
	e := newDefaultEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				// SSN is denied by every set this test installs.
				if res := e.Check("123-45-6789"); res.Verdict != Denied {
					t.Errorf("observed partial filter set: %+v", res)
					return
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			filters := defaultFilters()
			filters = append(filters, &storage.ContentFilter{
				ID: int64(100 + i), Pattern: fmt.Sprintf("extra%d", i),
				PatternType: storage.PatternLiteral, Action: storage.ActionFlag, Enabled: true,
			})
			e.Reload(filters)
		}(i)
	}
	wg.Wait()
}

func TestVerdictString(t *testing.T) {
	t.Parallel()
	if Passed.String() != "passed" || Denied.String() != "denied" || Flagged.String() != "flagged" || Verdict(9).String() != "unknown" {
		t.Error("unexpected verdict names")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		filter  storage.ContentFilter
		wantErr bool
	}{
		{"regex", storage.ContentFilter{Pattern: `\d{3}`, PatternType: storage.PatternRegex, Action: storage.ActionDeny}, false},
		{"literal", storage.ContentFilter{Pattern: "secret", PatternType: storage.PatternLiteral, Action: storage.ActionFlag}, false},
		{"bad regex", storage.ContentFilter{Pattern: "(", PatternType: storage.PatternRegex, Action: storage.ActionDeny}, true},
		{"empty literal", storage.ContentFilter{PatternType: storage.PatternLiteral, Action: storage.ActionDeny}, true},
		{"bad action", storage.ContentFilter{Pattern: "x", PatternType: storage.PatternLiteral, Action: "drop"}, true},
		{"bad type", storage.ContentFilter{Pattern: "x", PatternType: "glob", Action: storage.ActionDeny}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
