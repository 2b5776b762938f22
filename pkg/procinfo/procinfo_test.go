package procinfo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckPreviousRunNoFile(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "info.json"), "test")
	prev, err := w.CheckPreviousRun()
	require.NoError(t, err)
	require.Nil(t, prev)
}

func TestCheckPreviousRunDetectsDeadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.json")
	stale := Info{PID: 999999, Product: "test", StartedAt: time.Now()}
	data, _ := json.Marshal(stale)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w := New(path, "test")
	prev, err := w.CheckPreviousRun()
	require.NoError(t, err)
	require.NotNil(t, prev)

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Info
	require.NoError(t, json.Unmarshal(rewritten, &got))
	require.NotNil(t, got.Disposition)
	require.True(t, got.Disposition.AbruptlyStopped)
}

func TestWriteRunningAndStopped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.json")
	w := New(path, "test")

	require.NoError(t, w.WriteRunning(nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	require.Equal(t, os.Getpid(), info.PID)
	require.Nil(t, info.Disposition)

	require.NoError(t, w.WriteStopped(Disposition{ShutdownRequested: true}))
	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	var info2 Info
	require.NoError(t, json.Unmarshal(data2, &info2))
	require.True(t, info2.Disposition.ShutdownRequested)
}
