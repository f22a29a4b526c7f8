package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_FileAndReadRecent(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(Options{Dir: dir, Level: "debug"})
	require.NoError(t, err)

	logger.Info("first", zap.String("snippet_id", "a"))
	logger.Warn("second")
	logger.Debug("third")
	require.NoError(t, closeFn())

	entries, err := ReadRecent(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "third", entries[0].Message)
	require.Equal(t, "first", entries[2].Message)
	require.Equal(t, "a", entries[2].Fields["snippet_id"])

	warns, err := ReadRecent(dir, "warn", 10)
	require.NoError(t, err)
	require.Len(t, warns, 1)
	require.Equal(t, "second", warns[0].Message)

	limited, err := ReadRecent(dir, "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestNew_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(Options{Dir: dir, Level: "warn"})
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Error("kept")
	require.NoError(t, closeFn())

	entries, err := ReadRecent(dir, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ERROR", entries[0].Level)
}

func TestNew_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Console: true, Stderr: &buf})
	require.NoError(t, err)
	logger.Info("hello console")
	require.NoError(t, closeFn())
	require.Contains(t, buf.String(), "hello console")
}

func TestNew_NoSinks(t *testing.T) {
	logger, closeFn, err := New(Options{})
	require.NoError(t, err)
	logger.Info("nowhere")
	require.NoError(t, closeFn())
}

func TestReadRecent_MissingFile(t *testing.T) {
	entries, err := ReadRecent(t.TempDir(), "", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	require.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	require.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	require.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
}
