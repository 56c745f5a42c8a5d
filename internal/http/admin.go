package httpadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Actions are the session controls exposed to operators.
type Actions interface {
	ReloadEmotes(ctx context.Context) error
	Disconnect()
	Resume()
	Send(ctx context.Context, text, replyID string) error
	SetLogLevel(level string) error
}

type Server struct {
	act Actions
}

func New(act Actions) *Server { return &Server{act: act} }

func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"status": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(body)
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/admin/emotes/reload", post(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := s.act.ReloadEmotes(ctx); err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeOK(w, map[string]any{"reloaded": true})
	}))

	mux.HandleFunc("/admin/chat/disconnect", post(func(w http.ResponseWriter, _ *http.Request) {
		s.act.Disconnect()
		writeOK(w, nil)
	}))

	mux.HandleFunc("/admin/chat/resume", post(func(w http.ResponseWriter, _ *http.Request) {
		s.act.Resume()
		writeOK(w, nil)
	}))

	mux.HandleFunc("/admin/chat/send", post(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text    string `json:"text"`
			ReplyID string `json:"reply_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		if err := s.act.Send(r.Context(), req.Text, req.ReplyID); err != nil {
			http.Error(w, "send failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		writeOK(w, nil)
	}))

	mux.HandleFunc("/admin/log/level", post(func(w http.ResponseWriter, r *http.Request) {
		level := r.URL.Query().Get("level")
		if level == "" {
			http.Error(w, "level is required", http.StatusBadRequest)
			return
		}
		if err := s.act.SetLogLevel(level); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeOK(w, map[string]any{"level": strings.ToLower(level)})
	}))
}
