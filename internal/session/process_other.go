//go:build !unix

package session

import "errors"

var errProcessUnsupported = errors.New("process session backend is not supported on this platform")

// NewProcessSpawner is unavailable here; use the task backend.
func NewProcessSpawner(Options) (Spawner, error) {
	return nil, errProcessUnsupported
}
