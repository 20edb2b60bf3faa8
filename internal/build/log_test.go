package build

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func TestLogManagerLevels(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	mgr, err := NewLogManager(LogConfig{}, &console)
	require.NoError(t, err)
	defer mgr.Close()

	work := mgr.Logger("WORK")
	drft := mgr.Logger("DRFT")
	require.Same(t, work, mgr.Logger("WORK"))
	require.Equal(t, []string{"DRFT", "WORK"}, mgr.Subsystems())

	require.NoError(t, mgr.SetLevels("warn,WORK=debug"))
	require.Equal(t, btclog.LevelDebug, work.Level())
	require.Equal(t, btclog.LevelWarn, drft.Level())

	drft.InfoS(context.Background(), "hidden")
	require.NotContains(t, console.String(), "hidden")

	work.DebugS(context.Background(), "shown", "work_id", "abc")
	require.Contains(t, console.String(), "shown")
	require.Contains(t, console.String(), "WORK")

	require.ErrorContains(t, mgr.SetLevels("loud"), "invalid log level")
	require.ErrorContains(
		t, mgr.SetLevels("NOPE=info"), "unknown log subsystem",
	)
}

func TestLogManagerFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := DefaultLogRotatorConfig()
	cfg.LogDir = dir

	var console bytes.Buffer
	mgr, err := NewLogManager(LogConfig{Rotator: cfg}, &console)
	require.NoError(t, err)

	mgr.Logger("TEST").InfoS(context.Background(), "to file")
	require.NoError(t, mgr.Close())

	require.FileExists(t, filepath.Join(dir, DefaultLogFilename))
}

// failingHandler rejects every record.
type failingHandler struct {
	slog.Handler
}

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("disk full")
}

func TestFanoutKeepsGoing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, nil)
	out := fanout{failingHandler{text}, text}

	logger := slog.New(out.WithAttrs([]slog.Attr{slog.String("a", "b")}))
	logger.Info("still written")

	require.Contains(t, buf.String(), "still written")
	require.Contains(t, buf.String(), "a=b")

	err := out.Handle(
		context.Background(), slog.NewRecord(
			time.Time{}, slog.LevelInfo, "direct", 0,
		),
	)
	require.ErrorContains(t, err, "disk full")
	require.Contains(t, buf.String(), "direct")
}

func TestHandlerSetSubSystemKeepsLevel(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	set := NewHandlerSet(
		btclogv2.NewDefaultHandler(&a), btclogv2.NewDefaultHandler(&b),
	)
	set.SetLevel(btclog.LevelWarn)

	sub := set.SubSystem("TEST")
	require.Equal(t, btclog.LevelWarn, sub.Level())

	logger := btclogv2.NewSLogger(sub)
	logger.Info("quiet")
	logger.Warn("loud")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		require.NotContains(t, buf.String(), "quiet")
		require.Contains(t, buf.String(), "loud")
		require.Contains(t, buf.String(), "TEST")
	}
}
