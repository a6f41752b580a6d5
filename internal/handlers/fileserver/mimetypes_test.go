package fileserver

import (
	"testing"

	"example.com/thermoweb/v2/internal/config"
)

func TestResolveMimeType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		custom   map[string]string
		want     string
	}{
		{"pdf", "/manual.pdf", nil, "application/pdf"},
		{"html", "/index.html", nil, "text/html"},
		{"jpeg", "/photo.jpeg", nil, "image/jpeg"},
		{"ico", "/favicon.ico", nil, "image/x-icon"},
		{"upper case", "/PHOTO.JPEG", nil, "image/jpeg"},
		{"mixed case", "/Index.Html", nil, "text/html"},
		{"jpg is not jpeg", "/photo.jpg", nil, "text/plain"},
		{"htm is not html", "/page.htm", nil, "text/plain"},
		{"unknown", "/data.bin", nil, "text/plain"},
		{"no extension", "/README", nil, "text/plain"},
		{"empty", "", nil, "text/plain"},
		{"suffix without dot", "/xpdf", nil, "text/plain"},
		{"custom", "/app.js", map[string]string{".js": "text/javascript"}, "text/javascript"},
		{"custom overrides table", "/a.html", map[string]string{".html": "text/html; charset=utf-8"}, "text/html; charset=utf-8"},
		{"custom is case insensitive", "/APP.JS", map[string]string{".js": "text/javascript"}, "text/javascript"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveMimeType(tc.filename, tc.custom); got != tc.want {
				t.Errorf("ResolveMimeType(%q) = %q, want %q", tc.filename, got, tc.want)
			}
		})
	}
}

func TestMimeTypeResolver(t *testing.T) {
	r := NewMimeTypeResolver(nil)
	if got := r.GetMimeType("/x.woff2"); got != "text/plain" {
		t.Errorf("nil config: got %q", got)
	}

	r = NewMimeTypeResolver(&config.FileServerConfig{ResolvedMimeTypes: map[string]string{".WOFF2": "font/woff2"}})
	if got := r.GetMimeType("/Ubuntu.woff2"); got != "font/woff2" {
		t.Errorf("custom: got %q, want font/woff2", got)
	}
	if got := r.GetMimeType("/doc.pdf"); got != "application/pdf" {
		t.Errorf("builtin: got %q, want application/pdf", got)
	}
}
