package chat

import (
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"simple text", "hello", false},
		{"unicode", "héllo wörld 🎉", false},
		{"empty", "", true},
		{"too many bytes", strings.Repeat("x", MaxMessageBytes+1), true},
		{"too many chars", strings.Repeat("é", MaxTextChars+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0xfd}), true},
		{"max chars exactly", strings.Repeat("a", MaxTextChars), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessage(tc.text)
			if tc.wantErr && err == nil {
				t.Error("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateGifURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https url", "https://media.tenor.com/abc/cat.gif", false},
		{"http url", "http://example.com/dog.gif", false},
		{"empty", "", true},
		{"no scheme", "media.tenor.com/cat.gif", true},
		{"wrong scheme", "ftp://example.com/cat.gif", true},
		{"no host", "https:///cat.gif", true},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxGifURLBytes), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGifURL(tc.url)
			if tc.wantErr && err == nil {
				t.Error("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
