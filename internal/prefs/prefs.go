package prefs

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Keys read by the chat session.
const (
	MessageLimit   = "message_limit"
	NameDisplay    = "name_display"
	EnablePubSub   = "enable_pubsub"
	Enable7TV      = "enable_7tv_events"
	EnableRecent   = "enable_recent_messages"
	ShowUserNotice = "show_user_notices"
	ShowClearChat  = "show_clear_chat"
	UseWebSocket   = "use_websocket"
	UseEventSub    = "use_eventsub"
	SendViaAPI     = "send_via_api"
	CollectPoints  = "collect_points"
	JoinRaids      = "join_raids"
	StvLiveUpdates = "stv_live_updates"
	ShowPaints     = "show_paints"
	ShowStvBadges  = "show_stv_badges"
	ShowPersonal   = "show_personal_emotes"
)

const watchDebounce = 250 * time.Millisecond

// Store is a flat key/value preference file. Values are kept as strings and
// converted on read.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]string

	lmu       sync.Mutex
	listeners []func(map[string]string)
}

// Open loads path if it exists. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]string{}}
	if path == "" {
		return s, nil
	}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Memory returns a store that is never persisted.
func Memory(values map[string]string) *Store {
	s := &Store{values: map[string]string{}}
	maps.Copy(s.values, values)
	return s
}

// Reload re-reads the file and reports whether any value changed.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read prefs")
	}
	next := map[string]string{}
	if len(data) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return false, errors.Wrap(err, "decode prefs")
		}
		for k, v := range raw {
			switch tv := v.(type) {
			case string:
				next[k] = tv
			case bool:
				next[k] = strconv.FormatBool(tv)
			case float64:
				next[k] = strconv.FormatFloat(tv, 'f', -1, 64)
			}
		}
	}

	s.mu.Lock()
	changed := !maps.Equal(s.values, next)
	s.values = next
	s.mu.Unlock()
	return changed, nil
}

func (s *Store) String(key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok && v != "" {
		return v
	}
	return def
}

func (s *Store) Int(key string, def int) int {
	n, err := strconv.Atoi(s.String(key, ""))
	if err != nil {
		return def
	}
	return n
}

func (s *Store) Bool(key string, def bool) bool {
	v, err := strconv.ParseBool(s.String(key, ""))
	if err != nil {
		return def
	}
	return v
}

// Set stores value and saves the file.
func (s *Store) Set(key string, value any) error {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case bool:
		str = strconv.FormatBool(v)
	case int:
		str = strconv.Itoa(v)
	default:
		return errors.Errorf("prefs: unsupported value type %T for %s", value, key)
	}
	s.mu.Lock()
	s.values[key] = str
	s.mu.Unlock()
	return s.Save()
}

func (s *Store) Values() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.Values(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode prefs")
	}
	if err := atomicWrite(s.path, data, 0o600); err != nil {
		return errors.Wrap(err, "write prefs")
	}
	return nil
}

// OnChange registers fn to receive the new values after an external edit.
func (s *Store) OnChange(fn func(map[string]string)) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Store) notify() {
	values := s.Values()
	s.lmu.Lock()
	listeners := append([]func(map[string]string){}, s.listeners...)
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(values)
	}
}

// Watch reloads the file when it changes on disk until ctx is done. The
// parent directory is watched so atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(s.path)

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(watchDebounce)
				}
			case <-debounce.C:
				changed, err := s.Reload()
				if err != nil {
					slog.Error("prefs: reload failed", "path", s.path, "err", err)
					continue
				}
				if changed {
					slog.Info("prefs: reloaded", "path", s.path)
					s.notify()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("prefs: watch error", "err", err)
			}
		}
	}()
	return nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}
