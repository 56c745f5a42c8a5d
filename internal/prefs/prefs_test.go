package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Values())
	assert.Equal(t, 600, s.Int(MessageLimit, 600))
}

func TestSetPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(MessageLimit, 200))
	require.NoError(t, s.Set(EnablePubSub, false))
	require.NoError(t, s.Set(NameDisplay, "1"))

	again, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 200, again.Int(MessageLimit, 600))
	assert.False(t, again.Bool(EnablePubSub, true))
	assert.Equal(t, "1", again.String(NameDisplay, "0"))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestOpenAcceptsNativeJSONTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"message_limit": 300, "use_eventsub": true, "name_display": "2"}`), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 300, s.Int(MessageLimit, 0))
	assert.True(t, s.Bool(UseEventSub, false))
	assert.Equal(t, "2", s.String(NameDisplay, ""))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestSetRejectsUnsupportedType(t *testing.T) {
	s := Memory(nil)
	assert.Error(t, s.Set(MessageLimit, 1.5))
}

func TestWatchNotifiesOnExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path)
	require.NoError(t, err)

	got := make(chan map[string]string, 4)
	s.OnChange(func(v map[string]string) { got <- v })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	require.NoError(t, atomicWrite(path, []byte(`{"message_limit":"150"}`), 0o600))

	select {
	case v := <-got:
		assert.Equal(t, "150", v[MessageLimit])
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Equal(t, 150, s.Int(MessageLimit, 0))
}
