// Package cleanup removes the downloaded intermediate dataset once every
// earlier stage has succeeded.
package cleanup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// Result reports what Remove did.
type Result struct {
	Path    string
	Removed bool
	Bytes   int64
}

// Summary is the one-line stage summary.
func (r *Result) Summary() string {
	if !r.Removed {
		return r.Path + " not present, nothing to remove"
	}
	return fmt.Sprintf("removed %s (%s freed)", r.Path, humanize.Bytes(uint64(r.Bytes)))
}

// Remove deletes path. An absent file is not an error.
func Remove(path string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	res := &Result{Path: path}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("nothing to clean up", slog.String("path", path))
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("refusing to remove %s: is a directory", path)
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	res.Removed = true
	res.Bytes = info.Size()
	logger.Info("removed intermediate file", slog.String("path", path), slog.String("size", humanize.Bytes(uint64(res.Bytes))))
	return res, nil
}
