// Package assets holds the resources compiled into the binary and the rules
// deciding when they are served instead of files from the mount.
package assets

import (
	_ "embed"
	"strings"
)

var (
	//go:embed static/index.html
	indexHTML []byte
	//go:embed static/style.css
	styleCSS []byte
	//go:embed static/robots.txt
	robotsTXT []byte
	//go:embed static/favicon.ico
	faviconICO []byte
	//go:embed static/Ubuntu.woff2
	ubuntuWOFF2 []byte
)

// Policy decides whether the mount is consulted before the embedded copy.
type Policy int

const (
	// AlwaysEmbedded resources are served from the binary even when the
	// mount holds a file with the same name.
	AlwaysEmbedded Policy = iota
	// FilesystemFirst resources are served from the binary only when the
	// mount has no such file.
	FilesystemFirst
)

func (p Policy) String() string {
	switch p {
	case AlwaysEmbedded:
		return "always-embedded"
	case FilesystemFirst:
		return "filesystem-first"
	}
	return "unknown"
}

// Resource is one embedded fallback. When Redirect is set the fallback is a
// 307 to that location rather than a body.
type Resource struct {
	Name        string
	ContentType string
	Policy      Policy
	Data        []byte
	Redirect    string
}

var index = Resource{Name: "index.html", ContentType: "text/html", Policy: AlwaysEmbedded, Data: indexHTML}

var table = map[string]Resource{
	"/style.css":    {Name: "style.css", ContentType: "text/css", Policy: AlwaysEmbedded, Data: styleCSS},
	"/robots.txt":   {Name: "robots.txt", ContentType: "text/plain", Policy: AlwaysEmbedded, Data: robotsTXT},
	"/index.html":   {Name: "index.html", Policy: FilesystemFirst, Redirect: "/"},
	"/favicon.ico":  {Name: "favicon.ico", ContentType: "image/x-icon", Policy: FilesystemFirst, Data: faviconICO},
	"/Ubuntu.woff2": {Name: "Ubuntu.woff2", ContentType: "font/woff2", Policy: FilesystemFirst, Data: ubuntuWOFF2},
}

// Lookup returns the fallback for a logical path. Any path ending in '/' is a
// directory index request and maps to the embedded index page.
func Lookup(logical string) (Resource, bool) {
	if strings.HasSuffix(logical, "/") {
		return index, true
	}
	r, ok := table[logical]
	return r, ok
}

// Index returns the embedded index page.
func Index() Resource { return index }
