package manifest

import (
	"errors"
	"strings"
	"testing"
)

func TestParserParse(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		wantErr   bool
		wantID    string
		wantKind  Kind
		wantBody  string
	}{
		{
			name: "single_command",
			source: "---\n" +
				"id: hello\n" +
				"version: 1.0.0\n" +
				"kind: single_command\n" +
				"command: hello\n" +
				"schemaVersion: 1\n" +
				"---\n" +
				"console.log('hi')",
			wantID:   "hello",
			wantKind: KindSingleCommand,
			wantBody: "console.log('hi')",
		},
		{
			name: "listener without command",
			source: "---\n" +
				"id: watcher\n" +
				"version: 0.1.0\n" +
				"kind: listener\n" +
				"schemaVersion: 1\n" +
				"---\n" +
				"body",
			wantID:   "watcher",
			wantKind: KindListener,
			wantBody: "body",
		},
		{
			name: "missing command for command_flow",
			source: "---\n" +
				"id: flow\n" +
				"version: 1.0.0\n" +
				"kind: command_flow\n" +
				"schemaVersion: 1\n" +
				"---\n" +
				"body",
			wantErr: true,
		},
		{
			name: "bad version",
			source: "---\n" +
				"id: x\n" +
				"version: v1\n" +
				"kind: listener\n" +
				"---\n" +
				"body",
			wantErr: true,
		},
		{
			name:    "no front matter",
			source:  "just code, no manifest",
			wantErr: true,
		},
		{
			name:    "unterminated front matter",
			source:  "---\nid: x\n",
			wantErr: true,
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, body, err := p.Parse([]byte(tt.source))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got manifest %+v", m)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", m.ID, tt.wantID)
			}
			if m.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", m.Kind, tt.wantKind)
			}
			if strings.TrimSpace(string(body)) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}
