package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/sink"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Order represents the chronological order to use when listing entries.
type Order string

const (
	// OrderDesc returns entries newest first.
	OrderDesc Order = "desc"
	// OrderAsc returns entries oldest first.
	OrderAsc Order = "asc"
)

// Filters captures the parsed query parameters for entry lookups.
type Filters struct {
	Kinds     []string
	Usernames []string
	Since     *time.Time
	Limit     int
	Order     Order
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{
		Limit: defaultLimit,
		Order: OrderDesc,
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "desc":
			f.Order = OrderDesc
		case "asc":
			f.Order = OrderAsc
		default:
			return Filters{}, errors.New("order must be asc or desc")
		}
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	if kinds := values["kind"]; len(kinds) > 0 {
		seen := make(map[string]struct{})
		var out []string
		var allowAll bool
		for _, raw := range kinds {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				canonical, ok := normalizeKind(part)
				if !ok {
					return Filters{}, errors.New("invalid kind filter")
				}
				if canonical == "" {
					allowAll = true
					continue
				}
				if _, exists := seen[canonical]; !exists {
					out = append(out, canonical)
					seen[canonical] = struct{}{}
				}
			}
		}
		if !allowAll {
			f.Kinds = out
		}
	}

	if usernames := values["username"]; len(usernames) > 0 {
		seen := make(map[string]struct{})
		for _, raw := range usernames {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				lowered := strings.ToLower(part)
				if _, exists := seen[lowered]; !exists {
					f.Usernames = append(f.Usernames, lowered)
					seen[lowered] = struct{}{}
				}
			}
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func normalizeKind(k string) (string, bool) {
	switch strings.ToLower(k) {
	case "chat", "message", "msg":
		return core.KindChat.String(), true
	case "system", "sys":
		return core.KindSystem.String(), true
	case "cleared", "deleted":
		return core.KindCleared.String(), true
	case "clearchat", "timeout", "ban":
		return core.KindClearChat.String(), true
	case "notice":
		return core.KindNotice.String(), true
	case "all", "*":
		return "", true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// entryLogin is the user an entry is about, if any.
func entryLogin(e core.Entry) string {
	switch v := e.(type) {
	case core.ChatMessage:
		if v.UserLogin != "" {
			return v.UserLogin
		}
		return v.UserName
	case core.ClearedMessage:
		return v.UserLogin
	case core.ClearChat:
		return v.TargetLogin
	}
	return ""
}

// Matches reports whether e satisfies the filters.
func (f Filters) Matches(e core.Entry) bool {
	if len(f.Kinds) > 0 {
		kind := e.Kind().String()
		match := false
		for _, k := range f.Kinds {
			if k == kind {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Usernames) > 0 {
		username := strings.ToLower(entryLogin(e))
		if username == "" {
			return false
		}
		match := false
		for _, u := range f.Usernames {
			if strings.Contains(username, u) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.Since != nil && e.Meta().Timestamp < f.Since.UnixMilli() {
		return false
	}

	return true
}

// Apply filters a sink snapshot, honoring order and limit.
func (f Filters) Apply(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, 0, min(len(entries), f.Limit))
	if f.Order == OrderAsc {
		for _, e := range entries {
			if len(out) == f.Limit {
				break
			}
			if f.Matches(e) {
				out = append(out, e)
			}
		}
		return out
	}
	for i := len(entries) - 1; i >= 0 && len(out) < f.Limit; i-- {
		if f.Matches(entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}

// Query converts the filters into an archive query.
func (f Filters) Query() sink.Query {
	return sink.Query{
		Kinds:     f.Kinds,
		Users:     f.Usernames,
		Since:     f.Since,
		Limit:     f.Limit,
		Ascending: f.Order == OrderAsc,
	}
}

// CloneForStream returns a copy of the filters adjusted for streaming transports.
func (f Filters) CloneForStream() Filters {
	f.Limit = 0
	f.Since = nil
	return f
}
