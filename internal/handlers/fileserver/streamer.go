package fileserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"github.com/dustin/go-humanize"

	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
)

// streamFile sends f in scratch-sized chunks and closes it. A failed send
// closes the file, terminates the chunked body and still attempts a 500,
// which is dropped if the status line is already out.
func streamFile(resp server.ResponseWriter, req *http.Request, f fs.File, scratch []byte, contentType string, lg *logger.Logger) error {
	closed := false
	closeFile := func() {
		if !closed {
			closed = true
			f.Close()
		}
	}
	defer closeFile()

	resp.SetType(contentType)
	var sent int64
	for {
		n, readErr := f.Read(scratch)
		if n > 0 {
			if err := resp.SendChunk(scratch[:n]); err != nil {
				closeFile()
				lg.Error("File sending failed", logger.LogFields{"uri": req.RequestURI, "sent": humanize.Bytes(uint64(sent)), "error": err.Error()})
				resp.SendChunk(nil)
				server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "Failed to send file", lg)
				if errors.Is(err, server.ErrSendFailed) {
					return err
				}
				return fmt.Errorf("%w: %v", server.ErrSendFailed, err)
			}
			sent += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			closeFile()
			lg.Error("Failed to read existing file", logger.LogFields{"uri": req.RequestURI, "sent": humanize.Bytes(uint64(sent)), "error": readErr.Error()})
			if resp.Committed() {
				resp.SendChunk(nil)
			} else {
				server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "Failed to read existing file", lg)
			}
			return fmt.Errorf("%w: %v", server.ErrFileReadFailed, readErr)
		}
	}

	lg.Debug("File sending complete", logger.LogFields{"uri": req.RequestURI, "sent": humanize.Bytes(uint64(sent))})
	return resp.SendChunk(nil)
}
