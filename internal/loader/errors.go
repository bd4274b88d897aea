package loader

import (
	"errors"
	"fmt"

	"github.com/kiesman99/tilevas/pkg/tile"
)

var (
	// ErrTileNotAvailable means the tile could neither be read from the cache
	// nor downloaded. It may be transient.
	ErrTileNotAvailable = errors.New("tile not available")

	// ErrDownloadInProgress is advisory: another request is already fetching
	// the tile and will populate the cache.
	ErrDownloadInProgress = errors.New("download in progress")
)

// DownloadErrorKind classifies a DownloadError.
type DownloadErrorKind int

const (
	KindUnavailable DownloadErrorKind = iota
	KindInProgress
)

// DownloadError is returned by Downloader.TileData.
type DownloadError struct {
	Kind       DownloadErrorKind
	Tile       tile.Address
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Kind == KindInProgress:
		return fmt.Sprintf("tile %s: download already in progress", e.Tile)
	case e.StatusCode != 0:
		return fmt.Sprintf("tile %s not available: HTTP %d from %s", e.Tile, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("tile %s not available: %v", e.Tile, e.Err)
	default:
		return fmt.Sprintf("tile %s not available", e.Tile)
	}
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the error against ErrTileNotAvailable or
// ErrDownloadInProgress depending on its kind.
func (e *DownloadError) Is(target error) bool {
	switch target {
	case ErrTileNotAvailable:
		return e.Kind == KindUnavailable
	case ErrDownloadInProgress:
		return e.Kind == KindInProgress
	}
	return false
}

// IsInProgress reports whether err is the advisory in-progress error.
func IsInProgress(err error) bool {
	return errors.Is(err, ErrDownloadInProgress)
}
