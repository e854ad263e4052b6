package watch

import (
	"context"
	"time"
)

// Renderer returns the fully rendered HTML of a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Normalizer reduces HTML to canonical text.
type Normalizer interface {
	Normalize(html string) string
}

// Fingerprinter digests canonical text.
type Fingerprinter interface {
	Fingerprint(text string) string
}

// StateStore persists the last observed fingerprint. ok is false when
// nothing has been stored yet.
type StateStore interface {
	Load(ctx context.Context) (fingerprint string, ok bool, err error)
	Save(ctx context.Context, fingerprint string) error
}

// Notifier delivers a message. Implementations swallow their own errors.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces check correlation ids.
type IDGenerator interface {
	NewID() (string, error)
}
