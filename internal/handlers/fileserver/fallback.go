package fileserver

import (
	"net/http"

	"example.com/thermoweb/v2/internal/assets"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
)

// serveEmbedded sends a compiled-in resource in chunks of at most
// chunkSize bytes followed by the terminator, or the redirect it names.
func serveEmbedded(resp server.ResponseWriter, res assets.Resource, chunkSize int, lg *logger.Logger) error {
	if res.Redirect != "" {
		lg.Debug("Redirecting to embedded resource", logger.LogFields{"resource": res.Name, "location": res.Redirect})
		resp.SetStatus(http.StatusTemporaryRedirect)
		resp.SetHeader("Location", res.Redirect)
		return resp.Send(nil)
	}

	lg.Debug("Serving embedded resource", logger.LogFields{"resource": res.Name, "policy": res.Policy.String()})
	resp.SetType(res.ContentType)
	for data := res.Data; len(data) > 0; {
		n := min(chunkSize, len(data))
		if err := resp.SendChunk(data[:n]); err != nil {
			resp.SendChunk(nil)
			return err
		}
		data = data[n:]
	}
	return resp.SendChunk(nil)
}
