package song

import (
	"html"
	"regexp"
	"strings"
)

const (
	minArtistLen = 2
	maxArtistLen = 100
	minTitleLen  = 2
	maxTitleLen  = 150
)

// UnknownArtist is the placeholder used when a capture carries only a title.
// Captures with an unknown artist are recorded but never queued for download.
const UnknownArtist = "Desconhecido"

// separators in the order station pages actually use them. " by " handles the
// "title by artist" convention and swaps the halves.
var separators = []struct {
	token   string
	swapped bool
}{
	{" - ", false},
	{" – ", false}, // en dash
	{" — ", false}, // em dash
	{" | ", false},
	{" by ", true},
}

var (
	timeAgoSuffix = regexp.MustCompile(`(?i)\s*(\d+\s*min(?:uto)?s?\s*(?:ago|atr[aá]s)|ao\s*vivo|live(?:\s*now)?|h[aá]\s*\d+\s*min)\s*$`)
	clockPattern  = regexp.MustCompile(`^\s*\d{1,2}[:h]\d{2}(:\d{2})?\s*$`)
	addressLike   = regexp.MustCompile(`(?i)^(rua|av\.?|avenida|alameda|travessa|rodovia|estrada|pra[cç]a)\s`)
	urlLike       = regexp.MustCompile(`(?i)(https?://|www\.|\.com\b|\.fm\b|\.net\b)`)
	phoneLike     = regexp.MustCompile(`\(\d{2,3}\)\s*\d{4,5}[- ]?\d{4}`)
	digitsMostly  = regexp.MustCompile(`^[\d\s.,:/-]+$`)
)

// station self-identification fragments that leak into now-playing slots.
var stationNoise = []string{
	"a melhor", "a sua", "radio ", "rádio ", "fm ", "tocando agora",
	"now playing", "ultimas tocadas", "últimas tocadas", "ouça", "playlist",
	"programacao", "programação", "whatsapp", "promoção", "promocao",
}

// ParseSongText splits a raw scraped line into (artist, title). Lines without
// a recognizable separator keep the whole text as the title with an unknown
// artist, matching how station pages mix bare titles into their history lists.
func ParseSongText(text string) (artist, title string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", false
	}
	for _, sep := range separators {
		idx := strings.Index(text, sep.token)
		if idx <= 0 {
			continue
		}
		left := strings.TrimSpace(text[:idx])
		right := strings.TrimSpace(text[idx+len(sep.token):])
		if left == "" || right == "" {
			continue
		}
		if sep.swapped {
			return right, left, true
		}
		return left, right, true
	}
	return UnknownArtist, text, true
}

// Normalize canonicalizes a raw (artist, title) pair. It decodes HTML
// entities, strips trailing "3 min ago" / "ao vivo" style suffixes, and
// rejects captures that are clearly not songs: addresses, URLs, bare clock
// readings, station self-identification strings, and out-of-window lengths.
// Rejection is not an error; callers drop the capture silently.
func Normalize(artist, title string) (Identity, bool) {
	artist = cleanFragment(artist)
	title = cleanFragment(title)

	if artist == "" || title == "" {
		return Identity{}, false
	}
	if len(artist) < minArtistLen || len(artist) > maxArtistLen {
		return Identity{}, false
	}
	if len(title) < minTitleLen || len(title) > maxTitleLen {
		return Identity{}, false
	}
	if !plausibleSongText(artist) || !plausibleSongText(title) {
		return Identity{}, false
	}
	return Identity{Artist: artist, Title: title}, true
}

// NormalizeText parses and normalizes a raw scraped line in one step.
func NormalizeText(text string) (Identity, bool) {
	artist, title, ok := ParseSongText(text)
	if !ok {
		return Identity{}, false
	}
	return Normalize(artist, title)
}

func cleanFragment(s string) string {
	s = html.UnescapeString(s)
	s = strings.TrimSpace(s)
	for {
		next := timeAgoSuffix.ReplaceAllString(s, "")
		next = strings.TrimSpace(next)
		if next == s {
			break
		}
		s = next
	}
	// Collapse internal runs of whitespace left by scraping.
	return strings.Join(strings.Fields(s), " ")
}

func plausibleSongText(s string) bool {
	if clockPattern.MatchString(s) || digitsMostly.MatchString(s) {
		return false
	}
	if addressLike.MatchString(s) || urlLike.MatchString(s) || phoneLike.MatchString(s) {
		return false
	}
	lower := strings.ToLower(s)
	for _, noise := range stationNoise {
		if strings.Contains(lower, noise) {
			return false
		}
	}
	return true
}
