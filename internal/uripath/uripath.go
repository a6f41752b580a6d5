// Package uripath maps request URIs onto a storage base path inside a
// caller-supplied, fixed-capacity buffer.
package uripath

import (
	"errors"
	"strings"
)

// ErrPathTooLong is returned when base plus logical path does not fit the
// destination buffer.
var ErrPathTooLong = errors.New("path too long")

// ResolvedPath is a base path and a logical request path concatenated in a
// bounded buffer. The logical part starts where the base ends.
type ResolvedPath struct {
	buf     []byte
	baseLen int
}

// Full returns base plus logical path, e.g. "/spiffs/index.html".
func (p ResolvedPath) Full() string { return string(p.buf) }

// Logical returns the path with the base removed, e.g. "/index.html".
func (p ResolvedPath) Logical() string { return string(p.buf[p.baseLen:]) }

// Base returns the base path the logical path was appended to.
func (p ResolvedPath) Base() string { return string(p.buf[:p.baseLen]) }

// StripQuery truncates uri at the first '?' or '#'.
func StripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i != -1 {
		return uri[:i]
	}
	return uri
}

// Resolve writes base followed by the query-stripped uri into dst. One byte
// of dst is reserved as a terminator slot, so resolution fails with
// ErrPathTooLong when len(base)+len(path)+1 > len(dst). On failure dst is
// left untouched.
func Resolve(dst []byte, base, uri string) (ResolvedPath, error) {
	path := StripQuery(uri)
	if len(base)+len(path)+1 > len(dst) {
		return ResolvedPath{}, ErrPathTooLong
	}
	n := copy(dst, base)
	n += copy(dst[n:], path)
	dst[n] = 0
	return ResolvedPath{buf: dst[:n], baseLen: len(base)}, nil
}

// HasDotDot reports whether any segment of a slash-separated path is "..".
func HasDotDot(p string) bool {
	for p != "" {
		var seg string
		seg, p, _ = strings.Cut(p, "/")
		if seg == ".." {
			return true
		}
	}
	return false
}
