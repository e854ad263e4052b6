// Package system supplies the timestamps printed in change notifications
// and reported by the status endpoint.
package system

import "time"

// Clock stamps watch events with the host's wall time.
type Clock struct{}

// New returns the wall clock used by the watcher.
func New() *Clock {
	return &Clock{}
}

// Now is always UTC so messages read the same on any host.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
