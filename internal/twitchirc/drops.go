package twitchirc

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

type dropSample struct {
	command string
	channel string
	text    string
}

type dropReason struct {
	total   int
	byCmd   map[string]int
	samples map[string]dropSample
}

// dropLogger aggregates lines the client did not forward and logs one
// summary per reason every interval.
type dropLogger struct {
	verbose  bool
	interval time.Duration
	nextEmit time.Time
	reasons  map[string]*dropReason
}

func newDropLogger(now time.Time, verbose bool, interval time.Duration) *dropLogger {
	if interval <= 0 {
		interval = dropSummaryInterval
	}
	return &dropLogger{
		verbose:  verbose,
		interval: interval,
		nextEmit: now.Add(interval),
		reasons:  make(map[string]*dropReason),
	}
}

func (d *dropLogger) note(now time.Time, reason, raw string) {
	if d == nil {
		return
	}
	s := summarize(raw)
	if d.verbose {
		slog.Debug("twitchirc: dropped line", "reason", reason, "command", s.command, "channel", s.channel, "sample", s.text)
	}
	r := d.reasons[reason]
	if r == nil {
		r = &dropReason{byCmd: map[string]int{}, samples: map[string]dropSample{}}
		d.reasons[reason] = r
	}
	r.total++
	r.byCmd[s.command]++
	if _, ok := r.samples[s.command]; !ok {
		r.samples[s.command] = s
	}
	if !now.Before(d.nextEmit) {
		d.flush(now)
	}
}

func (d *dropLogger) flush(now time.Time) {
	if d == nil {
		return
	}
	for _, reason := range sortedKeys(d.reasons) {
		r := d.reasons[reason]
		counts := make([]string, 0, len(r.byCmd))
		samples := make([]string, 0, len(r.samples))
		for _, cmd := range sortedKeys(r.byCmd) {
			counts = append(counts, fmt.Sprintf("%s:%d", cmd, r.byCmd[cmd]))
			s := r.samples[cmd]
			samples = append(samples, strings.TrimSpace(cmd+":'"+strings.TrimSpace(s.channel+" "+s.text)+"'"))
		}
		slog.Info("twitchirc: dropped_"+reason,
			"total", r.total,
			"commands", "{"+strings.Join(counts, " ")+"}",
			"samples", "{"+strings.Join(samples, " ")+"}",
		)
	}
	clear(d.reasons)
	d.nextEmit = now.Add(d.interval)
}

// summarize extracts a redacted, loggable description of an IRC line.
func summarize(raw string) dropSample {
	m, ok := Tokenize(strings.TrimSpace(raw))
	if !ok {
		return dropSample{command: "UNKNOWN", text: redact(raw, dropSampleMaxLen)}
	}
	s := dropSample{command: m.Command}
	if ch := m.Channel(); ch != "" {
		s.channel = "#" + ch
	}
	switch {
	case m.Command == "USERNOTICE" && m.Tags["msg-id"] != "":
		s.text = "msg-id=" + m.Tags["msg-id"]
	case m.Trailing != "":
		s.text = m.Trailing
	case s.channel != "":
		s.text = s.channel
	default:
		s.text = strings.Join(m.Params, " ")
	}
	if m.Command == "PASS" {
		s.text = "[REDACTED]"
	}
	s.text = redact(s.text, dropSampleMaxLen)
	return s
}

func redact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func readDropDebugEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHATCORE_DEBUG_DROPS"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
