package httpapi

import (
	"net/http"
	"runtime"
	"time"
)

var processStart = time.Now()

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type infoResponse struct {
	Version   string `json:"version"`
	Revision  string `json:"rev"`
	BuiltAt   string `json:"built_at"`
	Go        string `json:"go"`
	Channel   string `json:"channel,omitempty"`
	UptimeSec int64  `json:"uptime_sec"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:   s.opts.Build.Version,
		Revision:  s.opts.Build.Revision,
		Go:        runtime.Version(),
		Channel:   s.session.Channel().Login,
		UptimeSec: int64(time.Since(processStart).Seconds()),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
