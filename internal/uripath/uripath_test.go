package uripath

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		base        string
		uri         string
		wantFull    string
		wantLogical string
	}{
		{"plain", "/spiffs", "/index.html", "/spiffs/index.html", "/index.html"},
		{"root", "/spiffs", "/", "/spiffs/", "/"},
		{"query", "/spiffs", "/style.css?v=3", "/spiffs/style.css", "/style.css"},
		{"fragment", "/spiffs", "/index.html#top", "/spiffs/index.html", "/index.html"},
		{"fragment before query", "/spiffs", "/a#b?c", "/spiffs/a", "/a"},
		{"empty uri", "/spiffs", "", "/spiffs", ""},
		{"only query", "/spiffs", "?x=1", "/spiffs", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dst := make([]byte, 47)
			p, err := Resolve(dst, tc.base, tc.uri)
			if err != nil {
				t.Fatalf("Resolve(%q, %q): %v", tc.base, tc.uri, err)
			}
			if p.Full() != tc.wantFull {
				t.Errorf("Full() = %q, want %q", p.Full(), tc.wantFull)
			}
			if p.Logical() != tc.wantLogical {
				t.Errorf("Logical() = %q, want %q", p.Logical(), tc.wantLogical)
			}
			if p.Base() != tc.base {
				t.Errorf("Base() = %q, want %q", p.Base(), tc.base)
			}
		})
	}
}

func TestResolve_SuffixDoesNotChangeLogicalPath(t *testing.T) {
	uris := []string{"/favicon.ico", "/api/set_temp", "/", "/a/b/c.txt"}
	suffixes := []string{"?", "?q=1", "#", "#frag", "?q=1#frag", "#frag?q=1"}
	for _, u := range uris {
		plain, err := Resolve(make([]byte, 64), "/spiffs", u)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", u, err)
		}
		for _, s := range suffixes {
			got, err := Resolve(make([]byte, 64), "/spiffs", u+s)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", u+s, err)
			}
			if got.Logical() != plain.Logical() || got.Full() != plain.Full() {
				t.Errorf("Resolve(%q) = %q, want %q", u+s, got.Full(), plain.Full())
			}
		}
	}
}

func TestResolve_Overflow(t *testing.T) {
	const capacity = 16
	base := "/spiffs" // 7 bytes

	// 7 + 8 + 1 == 16 fits exactly.
	if _, err := Resolve(make([]byte, capacity), base, "/1234567"); err != nil {
		t.Fatalf("exact fit should succeed: %v", err)
	}

	for _, uri := range []string{"/12345678", "/this/path/is/far/too/long", strings.Repeat("x", 100)} {
		dst := bytes.Repeat([]byte{0xAA}, capacity+8)
		window := dst[:capacity]
		p, err := Resolve(window, base, uri)
		if !errors.Is(err, ErrPathTooLong) {
			t.Fatalf("Resolve(%q) error = %v, want ErrPathTooLong", uri, err)
		}
		if p.Full() != "" || p.Logical() != "" {
			t.Errorf("failed resolution returned a path: %q", p.Full())
		}
		for i, b := range dst {
			if b != 0xAA {
				t.Fatalf("byte %d was written on failure", i)
			}
		}
	}
}

func TestResolve_QueryDoesNotCountTowardsLength(t *testing.T) {
	// The query is stripped before the capacity check.
	if _, err := Resolve(make([]byte, 16), "/spiffs", "/a?"+strings.Repeat("q", 50)); err != nil {
		t.Fatalf("Resolve with long query: %v", err)
	}
}

func TestHasDotDot(t *testing.T) {
	tests := map[string]bool{
		"/index.html":       false,
		"/../etc/passwd":    true,
		"/a/../b":           true,
		"/a/..":             true,
		"..":                true,
		"/a..b/c":           false,
		"/..hidden":         false,
		"/a/./b":            false,
		"":                  false,
		"/a/b/../../../../x": true,
	}
	for in, want := range tests {
		if got := HasDotDot(in); got != want {
			t.Errorf("HasDotDot(%q) = %v, want %v", in, got, want)
		}
	}
}
