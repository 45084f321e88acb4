package normalizer

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	ExtVideo = ".mp4"
	ExtAudio = ".mp3"

	// MaxTitleLength bounds the title portion of synthesized names
	MaxTitleLength = 50
	// MaxStemLength bounds any filename before its extension
	MaxStemLength = 100
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	disallowed    = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	dashRun       = regexp.MustCompile(`-{2,}`)
	hashtag       = regexp.MustCompile(`#(\w+)`)
)

var mediaExtensions = map[string]bool{
	".mp4": true, ".mp3": true, ".m4a": true, ".webm": true, ".mov": true, ".mkv": true, ".opus": true,
}

// SafeFilename reduces stem to [A-Za-z0-9_-], bounds it, and appends ext
func SafeFilename(stem string, ext string) string {
	s := sanitizeStem(stem, MaxStemLength)
	if s == "" {
		s = "video"
	}
	return s + ext
}

// EnsureExtension sanitizes a caller-provided name and forces ext onto it
func EnsureExtension(name string, ext string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if e := strings.ToLower(filepath.Ext(name)); mediaExtensions[e] {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return SafeFilename(name, ext)
}

func sanitizeStem(s string, max int) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "-")
	s = disallowed.ReplaceAllString(s, "")
	s = dashRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > max {
		s = strings.TrimRight(s[:max], "-")
	}
	return s
}

// Hashtags returns the distinct #tags of text without the leading '#'
func Hashtags(text string) []string {
	matches := hashtag.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := m[1]
		if !seen[strings.ToLower(tag)] {
			seen[strings.ToLower(tag)] = true
			out = append(out, tag)
		}
	}
	return out
}
