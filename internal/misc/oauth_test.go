package misc

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateRandomState(t *testing.T) {
	a, err := GenerateRandomState()
	if err != nil {
		t.Fatalf("GenerateRandomState() error = %v", err)
	}
	b, err := GenerateRandomState()
	if err != nil {
		t.Fatalf("GenerateRandomState() error = %v", err)
	}
	if len(a) != stateBytes*2 {
		t.Fatalf("expected %d hex characters, got %d", stateBytes*2, len(a))
	}
	if a == b {
		t.Fatalf("expected distinct states")
	}
}

func TestParseOAuthCallback(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
		wantErr   string
	}{
		{
			name:      "bare url",
			input:     "http://localhost:1455/auth/callback?code=abc123&state=xyz",
			wantCode:  "abc123",
			wantState: "xyz",
		},
		{
			name:     "url inside prose with whitespace",
			input:    "  here you go: http://localhost:1455/auth/callback?code=abc123 thanks \n",
			wantCode: "abc123",
		},
		{
			name:      "fragment parameters",
			input:     "https://example.com/cb#code=frag&state=s1",
			wantCode:  "frag",
			wantState: "s1",
		},
		{
			name:     "bare query string",
			input:    "?code=abc123",
			wantCode: "abc123",
		},
		{
			name:     "key value only",
			input:    "code=abc123",
			wantCode: "abc123",
		},
		{
			name:      "code with hash state",
			input:     "localhost:1455/auth/callback?code=abc%23st",
			wantCode:  "abc",
			wantState: "st",
		},
		{
			name:     "url followed by punctuation",
			input:    "open (http://localhost/cb?code=abc123).",
			wantCode: "abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOAuthCallback(tt.input)
			if err != nil {
				t.Fatalf("ParseOAuthCallback() error = %v", err)
			}
			if got.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.State != tt.wantState {
				t.Fatalf("state = %q, want %q", got.State, tt.wantState)
			}
		})
	}
}

func TestParseOAuthCallback_Errors(t *testing.T) {
	if _, err := ParseOAuthCallback("   "); !errors.Is(err, ErrEmptyCallback) {
		t.Fatalf("expected ErrEmptyCallback, got %v", err)
	}
	if _, err := ParseOAuthCallback("http://localhost:1455/auth/callback?state=only"); !errors.Is(err, ErrMissingCode) {
		t.Fatalf("expected ErrMissingCode, got %v", err)
	}
	if _, err := ParseOAuthCallback("no url in here"); !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}

func TestParseOAuthCallback_ProviderError(t *testing.T) {
	got, err := ParseOAuthCallback("http://localhost/cb?error=access_denied&error_description=User+cancelled")
	if err != nil {
		t.Fatalf("ParseOAuthCallback() error = %v", err)
	}
	if !got.HasError() || got.Error != "access_denied" {
		t.Fatalf("expected provider error, got %+v", got)
	}
	if !strings.Contains(got.ErrorDescription, "cancelled") {
		t.Fatalf("unexpected description %q", got.ErrorDescription)
	}
}

func TestExtractFirstURL(t *testing.T) {
	if got := ExtractFirstURL("first https://a.example/x?code=1 then https://b.example"); got != "https://a.example/x?code=1" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := ExtractFirstURL("nothing here"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
