package utils

import (
	"encoding/base64"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"dir/evil.sh", "evil.sh"},
		{"sp ace.txt", "sp ace.txt"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("anything", 0); got != "" {
		t.Errorf("zero max = %q", got)
	}
}

func TestParseDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("picture bytes"))
	du, err := ParseDataURI("data:image/png;base64," + payload)
	if err != nil {
		t.Fatalf("ParseDataURI: %v", err)
	}
	if du.MIMEType != "image/png" {
		t.Errorf("mime = %q", du.MIMEType)
	}
	if string(du.Data) != "picture bytes" {
		t.Errorf("data = %q", du.Data)
	}
}

func TestParseDataURIDefaultsMIME(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	du, err := ParseDataURI("data:;base64," + payload)
	if err != nil {
		t.Fatalf("ParseDataURI: %v", err)
	}
	if du.MIMEType != "application/octet-stream" {
		t.Errorf("mime = %q", du.MIMEType)
	}
}

func TestParseDataURIRejectsBadInput(t *testing.T) {
	bad := []string{
		"http://example.com/a.png",
		"data:image/png,rawtext",
		"data:image/png;base64",
		"data:image/png;base64,!!!not-base64!!!",
	}
	for _, in := range bad {
		if _, err := ParseDataURI(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestExtForMIME(t *testing.T) {
	if got := ExtForMIME("image/jpeg"); got != ".jpg" {
		t.Errorf("jpeg ext = %q", got)
	}
	if got := ExtForMIME("application/x-unknown"); got != ".bin" {
		t.Errorf("unknown ext = %q", got)
	}
}
