package logging_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/workshop/pkg/logging"
)

func TestFileLogger_CreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "backup.log")
	closer, logger, err := logging.FileLogger(logrus.InfoLevel, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
	require.DirExists(t, filepath.Dir(path))
}

func TestConsoleLogger_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.ConsoleLogger(logrus.WarnLevel, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
