// Package classify turns an opaque assistant response payload into a
// typed result. Classification never fails: a body that matches no known
// shape falls back to plain text or generic.
package classify

import (
	"regexp"
	"strings"

	"deskassist/internal/domain"
)

// The backend renders search answers as `"<title>" (<attribution> -
// <source>)` with an optional snippet, and video answers as `<title>
// [<channel>] (<url>)` with an optional `---`-separated description.
// The snippet separator arrives either as a literal `\n` escape or as a
// real newline depending on the answer source.
var (
	searchResultPattern = regexp.MustCompile(`"(.*)" \(\s?(.+) - (.+?)\s?\)(?:(?:\\n|\n)((?s:.+)))?`)
	videoResultPattern  = regexp.MustCompile(`(.+) \[(.+)\] \(\s?(.+?)\s?\)(?:\n---\n((?s:.+)))?`)
)

var watchURLPrefixes = []string{
	"https://m.youtube.com/watch?v=",
	"https://www.youtube.com/watch?v=",
	"https://youtube.com/watch?v=",
}

// Classify maps a response payload to a typed result and extracts any
// follow-up suggestions. The video shape is checked before the search
// shape: a video watch URL also satisfies the looser search pattern.
func Classify(payload domain.ResponsePayload) (domain.Result, []domain.Suggestion) {
	suggestions := append([]domain.Suggestion(nil), payload.Suggestions...)

	body := payload.Text
	if strings.TrimSpace(body) == "" {
		return domain.Result{Kind: domain.ResultGeneric, Raw: body}, suggestions
	}

	if m := videoResultPattern.FindStringSubmatch(body); m != nil && isWatchURL(m[3]) {
		return domain.Result{
			Kind:        domain.ResultVideo,
			Title:       m[1],
			Channel:     m[2],
			URL:         m[3],
			Description: m[4],
		}, suggestions
	}

	// The entire body must be the search shape, not a substring of it.
	if m := searchResultPattern.FindStringSubmatch(body); m != nil && m[0] == body {
		return domain.Result{
			Kind:        domain.ResultSearch,
			Title:       m[1],
			Attribution: m[2],
			Source:      m[3],
			Snippet:     m[4],
		}, suggestions
	}

	return domain.Result{Kind: domain.ResultPlainText, Body: body}, suggestions
}

func isWatchURL(url string) bool {
	for _, prefix := range watchURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// WatchVideoID extracts the video identifier from a recognized watch URL,
// for thumbnail lookup. Returns "" when the URL is not a watch URL.
func WatchVideoID(url string) string {
	if !isWatchURL(url) {
		return ""
	}
	idx := strings.Index(url, "watch?v=")
	return url[idx+len("watch?v="):]
}
