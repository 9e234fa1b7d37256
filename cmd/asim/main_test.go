package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"hello world", 8, "hello..."},
		{"héllo wörld with accénts", 10, "héllo w..."},
		{"日本語のテキストです", 6, "日本語..."},
	}
	for _, c := range cases {
		got := truncate(c.in, c.n)
		if got != c.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", c.in, c.n, got)
		}
	}
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	s := strings.Repeat("é", 40)
	for n := 4; n < 20; n++ {
		if got := truncate(s, n); !utf8.ValidString(got) {
			t.Errorf("truncate at %d produced invalid UTF-8: %q", n, got)
		}
	}
}
