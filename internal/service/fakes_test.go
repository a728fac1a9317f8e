package service

import (
	"errors"
	"io"
	"log/slog"

	"github.com/bigkaa/tgvault/internal/testutil"
)

type (
	memBackend = testutil.MemBackend
	memFiles   = testutil.MemFiles
	memFolders = testutil.MemFolders
)

var (
	newMemBackend = testutil.NewMemBackend
	newMemFiles   = testutil.NewMemFiles
)

var errBackendDown = errors.New("backend down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
