package ingest

import (
	"strings"
	"testing"
)

func TestCleanStripsMarkup(t *testing.T) {
	c := NewCleaner()

	cases := []struct {
		in, want string
	}{
		{`<p>Hello <b>world</b></p>`, "Hello world"},
		{`<a href="https://x.test">link text</a> trailing`, "link text trailing"},
		{"Rates &amp; markets", "Rates & markets"},
		{"  spaced \n\n out \t text ", "spaced out text"},
		{`<img src="pixel.gif"/>`, ""},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := c.Clean(tc.in); got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanRemovesScripts(t *testing.T) {
	c := NewCleaner()
	got := c.Clean(`before<script>alert("x")</script>after`)
	if strings.Contains(got, "alert") {
		t.Fatalf("script content survived: %q", got)
	}
}

func TestTruncateRespectsRuneBoundaries(t *testing.T) {
	s := "héllo wörld"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if len(got) > n {
			t.Fatalf("truncate(%q, %d) returned %d bytes", s, n, len(got))
		}
		if !strings.HasPrefix(s, got) {
			t.Fatalf("truncate(%q, %d) = %q is not a prefix", s, n, got)
		}
	}
	if truncate("short", 100) != "short" {
		t.Fatal("truncate must leave short strings alone")
	}
}
