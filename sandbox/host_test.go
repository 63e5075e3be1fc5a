package sandbox

import (
	"bytes"
	"testing"

	"golang.org/x/time/rate"
)

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		name    string
		dataURL string
		want    string
		wantErr bool
	}{
		{
			name:    "valid base64",
			dataURL: "data:application/vnd.chatrouter.service+json;base64,aGVsbG8=",
			want:    "hello",
		},
		{
			name:    "missing base64 marker",
			dataURL: "data:text/plain,hello",
			wantErr: true,
		},
		{
			name:    "corrupt base64",
			dataURL: "data:text/plain;base64,!!!not-base64!!!",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDataURL(tt.dataURL)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseResponseTakesFinalLine(t *testing.T) {
	out := []byte("some diagnostic noise\n{\"kind\":\"reply\",\"text\":\"hi\"}")
	resp, err := parseResponse(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != "reply" || resp.Text != "hi" {
		t.Errorf("got %+v", resp)
	}
}

func TestParseResponseBadJSON(t *testing.T) {
	if _, err := parseResponse([]byte("not json")); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}

	lw.Write([]byte("hello world"))
	if buf.String() != "hello" {
		t.Errorf("got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte("more"))
	if buf.Len() != 5 {
		t.Errorf("writer kept accepting bytes past its ceiling: len=%d", buf.Len())
	}
}

func TestAdmitNetRateLimits(t *testing.T) {
	h := &Host{limiters: make(map[string]*rate.Limiter)}
	domains := []string{"api.example.com"}

	for i := 0; i < 5; i++ {
		if !h.admitNet(domains) {
			t.Fatalf("invocation %d should be admitted within burst", i)
		}
	}
	if h.admitNet(domains) {
		t.Error("invocation beyond burst should be denied")
	}
}
