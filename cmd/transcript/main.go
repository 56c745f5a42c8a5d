// Command transcript inspects downloaded chat files: it prints a summary,
// dumps entries as JSON lines and extracts embedded images.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatcore/internal/core"
	"github.com/you/chatcore/internal/logging"
	"github.com/you/chatcore/internal/transcript"
)

func main() {
	var (
		dump     bool
		asset    string
		out      string
		logLevel string
	)
	flag.BoolVar(&dump, "dump", false, "Print every entry as a JSON line")
	flag.StringVar(&asset, "asset", "", "Extract the embedded image of the emote, badge or cheermote with this name")
	flag.StringVar(&out, "out", "", "Output file for -asset (defaults to <name>.img)")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.json>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.New(logging.Options{Level: logLevel, Console: os.Stderr})
	logger.Install()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, dump, asset, out); err != nil {
		slog.Error("transcript: failed", "path", path, "err", err)
		os.Exit(1)
	}
}

func run(path string, dump bool, asset, out string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	t, err := transcript.Parse(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	switch {
	case asset != "":
		return extract(path, t, asset, out)
	case dump:
		enc := json.NewEncoder(os.Stdout)
		for _, e := range t.Entries {
			if err := enc.Encode(map[string]any{"kind": e.Kind().String(), "entry": e}); err != nil {
				return err
			}
		}
		return nil
	}
	summarize(t)
	return nil
}

func summarize(t *transcript.Transcript) {
	kinds := map[string]int{}
	users := map[string]struct{}{}
	for _, e := range t.Entries {
		kinds[e.Kind().String()]++
		if m, ok := e.(core.ChatMessage); ok && m.UserLogin != "" {
			users[m.UserLogin] = struct{}{}
		}
	}

	fmt.Printf("entries:  %d\n", len(t.Entries))
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %-10s %d\n", k, kinds[k])
	}
	fmt.Printf("chatters: %d\n", len(users))
	if n := len(t.Entries); n > 0 {
		first := t.Entries[0].Meta().Timestamp
		last := t.Entries[n-1].Meta().Timestamp
		fmt.Printf("span:     %s\n", (time.Duration(last-first) * time.Millisecond).Round(time.Second))
	}
	fmt.Printf("assets:   %d twitch emotes, %d emotes, %d badges, %d cheermotes\n",
		len(t.TwitchEmotes), len(t.Emotes), len(t.Badges), len(t.CheerEmotes))
}

// findAsset returns the embedded image reference for name.
func findAsset(t *transcript.Transcript, name string) (core.AssetRef, bool) {
	for _, list := range [][]core.Emote{t.TwitchEmotes, t.Emotes} {
		for _, e := range list {
			if e.Name == name && e.Local != nil {
				return *e.Local, true
			}
		}
	}
	for _, b := range t.Badges {
		if (b.SetID == name || b.SetID+"/"+b.Version == name) && b.Local != nil {
			return *b.Local, true
		}
	}
	for _, c := range t.CheerEmotes {
		if c.Name == name && c.Local != nil {
			return *c.Local, true
		}
	}
	return core.AssetRef{}, false
}

func extract(path string, t *transcript.Transcript, name, out string) error {
	ref, ok := findAsset(t, name)
	if !ok {
		return errors.Errorf("no embedded image named %q", name)
	}
	data, err := transcript.ReadAsset(path, ref)
	if err != nil {
		return errors.Wrapf(err, "read asset %s", name)
	}
	if out == "" {
		out = name + ".img"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return errors.Wrap(err, "write asset")
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), out)
	return nil
}
