package solverr

import (
	"strings"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	tests := []struct {
		name       string
		base       string
		wantPrefix string
	}{
		{name: "plain_base", base: "crawler", wantPrefix: "crawler-"},
		{name: "spaces_become_dashes", base: "my crawler", wantPrefix: "my-crawler-"},
		{name: "special_chars_sanitized", base: "news!feed@2024", wantPrefix: "news-feed-2024-"},
		{name: "uppercase_lowered", base: "Crawler", wantPrefix: "crawler-"},
		{name: "empty_base_defaults", base: "", wantPrefix: "session-"},
		{name: "only_junk_defaults", base: "!!!", wantPrefix: "session-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := GenerateSessionID(tt.base)
			if !strings.HasPrefix(id, tt.wantPrefix) {
				t.Errorf("GenerateSessionID(%q) = %q, want prefix %q", tt.base, id, tt.wantPrefix)
			}
			if strings.ToLower(id) != id {
				t.Errorf("identifier %q should be lowercase", id)
			}
		})
	}
}

func TestGenerateSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateSessionID("dup")
		if seen[id] {
			t.Fatalf("duplicate identifier generated: %s", id)
		}
		seen[id] = true
	}
}

func TestDefaultSessionID(t *testing.T) {
	if id := DefaultSessionID(); !strings.HasPrefix(id, "solverr-") {
		t.Errorf("DefaultSessionID() = %q, want solverr- prefix", id)
	}
}
