package watch

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05Z"

// StartedMessage announces that the watcher is running.
func StartedMessage(rawURL string) string {
	return fmt.Sprintf("🚀 Watch started for %s", link(rawURL, rawURL))
}

// InitializedMessage reports the first fingerprint ever recorded.
func InitializedMessage(rawURL string, at time.Time) string {
	return fmt.Sprintf("🔎 Watch initialized on %s\n⏱ %s UTC", link(rawURL, Label(rawURL)), stamp(at))
}

// ChangedMessage reports a content transition.
func ChangedMessage(rawURL string, at time.Time) string {
	return fmt.Sprintf("🟢 CHANGE DETECTED on %s\n⏱ %s UTC", link(rawURL, Label(rawURL)), stamp(at))
}

// Label shortens a URL to host and path for display.
func Label(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host + strings.TrimRight(u.Path, "/")
}

func link(href, text string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(text))
}

func stamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
