package transcript

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/you/chatcore/internal/core"
)

// window keeps the bytes the decoder has read but not yet consumed, so the
// raw position of a string token can be found after it is decoded.
type window struct {
	r        io.Reader
	consumed func() int64
	base     int64
	buf      []byte
}

func (w *window) Read(p []byte) (int, error) {
	if w.consumed != nil {
		w.discard(w.consumed())
	}
	n, err := w.r.Read(p)
	w.buf = append(w.buf, p[:n]...)
	return n, err
}

func (w *window) discard(off int64) {
	drop := off - w.base
	if drop <= 0 {
		return
	}
	if drop >= int64(len(w.buf)) {
		w.base += int64(len(w.buf))
		w.buf = w.buf[:0]
		return
	}
	w.buf = append(w.buf[:0], w.buf[drop:]...)
	w.base = off
}

// indexQuote returns the absolute offset of the first '"' in [from, to), or
// -1 when that range is no longer held.
func (w *window) indexQuote(from, to int64) int64 {
	from = max(from, w.base)
	end := to - w.base
	if end > int64(len(w.buf)) || from >= to {
		return -1
	}
	i := bytes.IndexByte(w.buf[from-w.base:end], '"')
	if i < 0 {
		return -1
	}
	return from + int64(i)
}

// ReadAsset decodes the payload ref points at in the transcript file at path.
func ReadAsset(path string, ref core.AssetRef) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open asset: %w", err)
	}
	defer f.Close()
	return ReadAssetAt(f, ref)
}

// ReadAssetAt decodes the base64 payload stored at ref. Padding is optional
// and JSON escapes inside the payload are undone first.
func ReadAssetAt(ra io.ReaderAt, ref core.AssetRef) ([]byte, error) {
	if ref.Length < 0 || ref.Offset < 0 {
		return nil, fmt.Errorf("transcript: invalid asset range %d+%d", ref.Offset, ref.Length)
	}
	raw := make([]byte, ref.Length)
	if _, err := ra.ReadAt(raw, ref.Offset); err != nil && !(err == io.EOF && ref.Length == 0) {
		return nil, fmt.Errorf("transcript: read asset: %w", err)
	}
	if bytes.IndexByte(raw, '\\') >= 0 {
		var s string
		quoted := append(append([]byte{'"'}, raw...), '"')
		if err := json.Unmarshal(quoted, &s); err != nil {
			return nil, fmt.Errorf("transcript: unescape asset: %w", err)
		}
		raw = []byte(s)
	}
	raw = bytes.TrimRight(raw, "=")
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(raw)))
	n, err := base64.RawStdEncoding.Decode(out, raw)
	if err != nil {
		return nil, fmt.Errorf("transcript: decode asset: %w", err)
	}
	return out[:n], nil
}
