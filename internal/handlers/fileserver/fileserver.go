// Package fileserver implements the generic GET resolver: embedded
// resources, files on the storage mount, and the rules choosing between
// them.
package fileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"example.com/thermoweb/v2/internal/assets"
	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
	"example.com/thermoweb/v2/internal/storage"
	"example.com/thermoweb/v2/internal/uripath"
)

// FileServer serves GET requests from the mount and the embedded assets.
type FileServer struct {
	ctx  *ServerContext
	fs   storage.Filesystem
	mime *MimeTypeResolver
	log  *logger.Logger
}

// New creates a FileServer. cfg may be nil.
func New(sc *ServerContext, fsys storage.Filesystem, cfg *config.FileServerConfig, lg *logger.Logger) (*FileServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context cannot be nil")
	}
	if fsys == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &FileServer{ctx: sc, fs: fsys, mime: NewMimeTypeResolver(cfg), log: lg}, nil
}

// requestURI is the raw request target, query included.
func requestURI(req *http.Request) string {
	if strings.HasPrefix(req.RequestURI, "/") {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}

func (h *FileServer) Serve(resp server.ResponseWriter, req *http.Request) error {
	uri := requestURI(req)
	h.log.Debug("Download requested", logger.LogFields{"uri": uri})

	pathBuf := make([]byte, h.ctx.MaxPathLength())
	resolved, err := uripath.Resolve(pathBuf, h.ctx.BasePath(), uri)
	if err != nil {
		h.log.Error("Filename is too long", logger.LogFields{"uri": uri, "limit": h.ctx.MaxPathLength()})
		server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "Filename too long", h.log)
		return fmt.Errorf("%w: %s", server.ErrPathTooLong, uri)
	}
	logical := resolved.Logical()
	chunk := h.ctx.ChunkSize()

	if logical == "" {
		return serveEmbedded(resp, assets.Index(), chunk, h.log)
	}
	res, hasFallback := assets.Lookup(logical)
	if hasFallback && res.Policy == assets.AlwaysEmbedded {
		return serveEmbedded(resp, res, chunk, h.log)
	}

	if uripath.HasDotDot(logical) {
		h.log.Warn("Rejected path traversal attempt", logger.LogFields{"uri": uri})
		server.SendDefaultErrorResponse(resp, http.StatusNotFound, req, "File does not exist", h.log)
		return fmt.Errorf("%w: %s", server.ErrFileNotFound, logical)
	}

	full := resolved.Full()
	info, err := h.fs.Stat(full)
	if err != nil {
		if hasFallback {
			return serveEmbedded(resp, res, chunk, h.log)
		}
		level := h.log.Info
		if !errors.Is(err, fs.ErrNotExist) {
			level = h.log.Warn
		}
		level("Failed to stat file", logger.LogFields{"path": full, "error": err.Error()})
		server.SendDefaultErrorResponse(resp, http.StatusNotFound, req, "File does not exist", h.log)
		return fmt.Errorf("%w: %s", server.ErrFileNotFound, logical)
	}
	if info.IsDir() {
		return serveEmbedded(resp, assets.Index(), chunk, h.log)
	}

	f, err := h.fs.Open(full)
	if err != nil {
		h.log.Error("Failed to read existing file", logger.LogFields{"path": full, "error": err.Error()})
		server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "Failed to read existing file", h.log)
		return fmt.Errorf("%w: %s: %v", server.ErrFileOpenFailed, logical, err)
	}

	// Only the streamer needs the scratch buffer; everything above runs
	// without it.
	scratch, release := h.ctx.acquireScratch()
	defer release()
	h.log.Info("Sending file", logger.LogFields{"path": logical, "size": humanize.Bytes(uint64(info.Size()))})
	return streamFile(resp, req, f, scratch, h.mime.GetMimeType(logical), h.log)
}
