package fileserver

import (
	"path"
	"strings"

	"example.com/thermoweb/v2/internal/config"
)

// builtinTypes is checked in order against the end of the file name,
// ignoring case.
var builtinTypes = []struct {
	suffix   string
	mimeType string
}{
	{".pdf", "application/pdf"},
	{".html", "text/html"},
	{".jpeg", "image/jpeg"},
	{".ico", "image/x-icon"},
}

const defaultMimeType = "text/plain"

// MimeTypeResolver maps file names to content types. Custom mappings from
// the handler config are consulted before the built-in table.
type MimeTypeResolver struct {
	customMimeTypes map[string]string
}

// NewMimeTypeResolver uses cfg.ResolvedMimeTypes; cfg may be nil.
func NewMimeTypeResolver(cfg *config.FileServerConfig) *MimeTypeResolver {
	r := &MimeTypeResolver{customMimeTypes: map[string]string{}}
	if cfg != nil {
		for ext, mimeType := range cfg.ResolvedMimeTypes {
			r.customMimeTypes[strings.ToLower(ext)] = mimeType
		}
	}
	return r
}

// GetMimeType never fails; unknown names are text/plain.
func (r *MimeTypeResolver) GetMimeType(filename string) string {
	return ResolveMimeType(filename, r.customMimeTypes)
}

// ResolveMimeType classifies filename using customMappings (lowercased
// extension keys) first, then the built-in suffix table.
func ResolveMimeType(filename string, customMappings map[string]string) string {
	lower := strings.ToLower(filename)
	if ext := path.Ext(lower); ext != "" && customMappings != nil {
		if mimeType, ok := customMappings[ext]; ok {
			return mimeType
		}
	}
	for _, t := range builtinTypes {
		if strings.HasSuffix(lower, t.suffix) {
			return t.mimeType
		}
	}
	return defaultMimeType
}
