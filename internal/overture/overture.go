// Package overture makes sure a local GeoJSON extract of Overture Maps
// transportation segments exists for the configured bounding box.
package overture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"

	"github.com/leapstack-labs/ltsprep/internal/failure"
	"github.com/leapstack-labs/ltsprep/internal/state"
)

// DefaultRelease is the Overture release used when none is configured.
const DefaultRelease = "2025-09-24.0"

var releasePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.\d+$`)

// BBox is a WGS84 bounding box in degrees.
type BBox struct {
	West  float64 `koanf:"west"`
	South float64 `koanf:"south"`
	East  float64 `koanf:"east"`
	North float64 `koanf:"north"`
}

// DefaultBBox covers the Philadelphia region.
var DefaultBBox = BBox{West: -76.210785, South: 39.478606, East: -73.885803, North: 40.601963}

// Validate rejects inverted boxes and coordinates outside WGS84 range.
func (b BBox) Validate() error {
	for _, c := range []struct {
		key   string
		v     float64
		limit float64
	}{
		{"bbox.west", b.West, 180},
		{"bbox.east", b.East, 180},
		{"bbox.south", b.South, 90},
		{"bbox.north", b.North, 90},
	} {
		if c.v < -c.limit || c.v > c.limit {
			return failure.Config(c.key, "%s is outside [-%g, %g]", fmtCoord(c.v), c.limit, c.limit)
		}
	}
	if b.West >= b.East {
		return failure.Config("bbox", "west (%s) must be less than east (%s)", fmtCoord(b.West), fmtCoord(b.East)).
			WithHint("check BBOX_WEST and BBOX_EAST")
	}
	if b.South >= b.North {
		return failure.Config("bbox", "south (%s) must be less than north (%s)", fmtCoord(b.South), fmtCoord(b.North)).
			WithHint("check BBOX_SOUTH and BBOX_NORTH")
	}
	return nil
}

func (b BBox) String() string {
	return fmt.Sprintf("west=%s south=%s east=%s north=%s",
		fmtCoord(b.West), fmtCoord(b.South), fmtCoord(b.East), fmtCoord(b.North))
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ValidateRelease checks the YYYY-MM-DD.N release format.
func ValidateRelease(release string) error {
	if !releasePattern.MatchString(release) {
		return failure.Config("overture.release", "%q is not a release identifier", release).
			WithHint("releases look like 2025-09-24.0; set OVERTURE_VERSION")
	}
	return nil
}

// Request selects what to download.
type Request struct {
	Release string
	BBox    BBox
}

// Source downloads segments for a request into a GeoJSON file at dest and
// returns the number of features written.
type Source interface {
	Fetch(ctx context.Context, req Request, dest string) (int64, error)
}

// Ledger remembers which request produced a cached file. It is optional.
type Ledger interface {
	RecordAcquisition(ctx context.Context, a state.Acquisition) error
	LatestAcquisition(ctx context.Context, path string) (*state.Acquisition, error)
}

// Result describes the dataset file after Ensure.
type Result struct {
	Path     string
	Cached   bool
	Features int64
	// Warning is set when a cached file was recorded for a different request.
	Warning string
}

// Acquirer downloads the dataset once and reuses the file afterwards.
type Acquirer struct {
	source Source
	ledger Ledger
	logger *slog.Logger
}

// NewAcquirer creates an acquirer. ledger may be nil.
func NewAcquirer(source Source, ledger Ledger, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Acquirer{source: source, ledger: ledger, logger: logger}
}

// Ensure returns immediately when path exists, whatever bbox or release it
// was produced for. Otherwise it fetches into path+".partial" and renames
// the file into place once the write succeeded.
func (a *Acquirer) Ensure(ctx context.Context, path string, req Request) (*Result, error) {
	if _, err := os.Stat(path); err == nil {
		res := &Result{Path: path, Cached: true}
		res.Warning = a.staleness(ctx, path, req)
		a.logger.Info("dataset already present, skipping download", slog.String("path", path))
		if res.Warning != "" {
			a.logger.Warn(res.Warning, slog.String("path", path))
		}
		return res, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := ValidateRelease(req.Release); err != nil {
		return nil, err
	}
	if err := req.BBox.Validate(); err != nil {
		return nil, err
	}

	partial := path + ".partial"
	_ = os.Remove(partial)

	a.logger.Info("downloading overture segments",
		slog.String("release", req.Release),
		slog.String("bbox", req.BBox.String()),
		slog.String("path", path))

	n, err := a.source.Fetch(ctx, req, partial)
	if err != nil {
		_ = os.Remove(partial)
		return nil, err
	}
	if n == 0 {
		_ = os.Remove(partial)
		return nil, &failure.ToolError{
			Tool:     "overture",
			ExitCode: -1,
			Output:   fmt.Sprintf("no segments found for release %s in %s", req.Release, req.BBox),
		}
	}
	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	if a.ledger != nil {
		rec := state.Acquisition{
			Path:     path,
			Release:  req.Release,
			West:     req.BBox.West,
			South:    req.BBox.South,
			East:     req.BBox.East,
			North:    req.BBox.North,
			Features: n,
		}
		if err := a.ledger.RecordAcquisition(ctx, rec); err != nil {
			a.logger.Warn("failed to record acquisition", slog.String("error", err.Error()))
		}
	}

	return &Result{Path: path, Features: n}, nil
}

func (a *Acquirer) staleness(ctx context.Context, path string, req Request) string {
	if a.ledger == nil {
		return ""
	}
	prev, err := a.ledger.LatestAcquisition(ctx, path)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			a.logger.Debug("acquisition lookup failed", slog.String("error", err.Error()))
		}
		return ""
	}

	prevBox := BBox{West: prev.West, South: prev.South, East: prev.East, North: prev.North}
	switch {
	case prev.Release != req.Release && prevBox != req.BBox:
		return fmt.Sprintf("cached file was downloaded for release %s and %s; delete it to refresh", prev.Release, prevBox)
	case prev.Release != req.Release:
		return fmt.Sprintf("cached file was downloaded for release %s; delete it to refresh", prev.Release)
	case prevBox != req.BBox:
		return fmt.Sprintf("cached file was downloaded for %s; delete it to refresh", prevBox)
	}
	return ""
}
