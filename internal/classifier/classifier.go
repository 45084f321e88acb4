// Package classifier maps a user-supplied post URL to a platform and a platform-specific id.
package classifier

import (
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// ShortLinkID marks a TikTok short link whose real id needs a redirect to discover
const ShortLinkID = "short_url"

// Target is a classified post
type Target struct {
	Platform types.Platform `json:"platform"`
	ID       string         `json:"id"`
	URL      string         `json:"url"`
}

// IsShortLink reports whether the target still needs redirect resolution
func (t Target) IsShortLink() bool {
	return t.ID == ShortLinkID
}

// Key identifies the target in caches
func (t Target) Key() string {
	return string(t.Platform) + ":" + t.ID
}

var (
	shortcodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	tiktokIDPattern  = regexp.MustCompile(`^\d+$`)
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
)

var instagramPostSegments = map[string]bool{"p": true, "reel": true, "reels": true, "tv": true}

var youtubePathPrefixes = []string{"embed", "shorts", "v", "live"}

// Classify parses raw and returns its platform and id
func Classify(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return Target{}, apperrors.ErrInvalidURL.WithMessage("not a valid http(s) URL: %q", raw)
	}

	host := strings.ToLower(u.Hostname())
	segments := pathSegments(u.Path)

	var (
		platform types.Platform
		id       string
	)
	switch {
	case hostMatches(host, "instagram.com", "instagr.am"):
		platform = types.PlatformInstagram
		id = instagramID(segments)
	case hostMatches(host, "vm.tiktok.com", "vt.tiktok.com"):
		platform, id = types.PlatformTikTok, ShortLinkID
	case hostMatches(host, "tiktok.com"):
		platform = types.PlatformTikTok
		id = tiktokID(segments)
	case hostMatches(host, "youtu.be"):
		platform = types.PlatformYouTube
		if len(segments) > 0 {
			id = segments[0]
		}
	case hostMatches(host, "youtube.com", "youtube-nocookie.com"):
		platform = types.PlatformYouTube
		id = youtubeID(u, segments)
	default:
		return Target{}, apperrors.ErrUnsupportedPlatform.WithMessage("unsupported host %q", host)
	}

	if !validID(platform, id) {
		return Target{}, apperrors.ErrIDNotExtractable.WithMessage("no %s id found in %q", platform, raw)
	}

	return Target{Platform: platform, ID: id, URL: raw}, nil
}

// CDNPlatform maps a media CDN host back to the platform serving it
func CDNPlatform(host string) (types.Platform, bool) {
	host = strings.ToLower(host)
	switch {
	case hostMatches(host, "cdninstagram.com", "fbcdn.net"):
		return types.PlatformInstagram, true
	case hostMatches(host, "tiktokcdn.com", "tiktokcdn-us.com", "tiktokv.com", "byteoversea.com"):
		return types.PlatformTikTok, true
	case hostMatches(host, "googlevideo.com"):
		return types.PlatformYouTube, true
	}
	return types.PlatformUnknown, false
}

// HostAllowed reports whether host equals or is a subdomain of one of suffixes
func HostAllowed(host string, suffixes []string) bool {
	return hostMatches(strings.ToLower(host), suffixes...)
}

func hostMatches(host string, domains ...string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func instagramID(segments []string) string {
	for i := 0; i < len(segments)-1; i++ {
		if instagramPostSegments[strings.ToLower(segments[i])] {
			return segments[i+1]
		}
	}
	return ""
}

func tiktokID(segments []string) string {
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] == "video" || segments[i] == "photo" {
			return segments[i+1]
		}
	}
	// www.tiktok.com/t/<code> is another short link form
	if len(segments) == 2 && segments[0] == "t" {
		return ShortLinkID
	}
	return ""
}

func youtubeID(u *url.URL, segments []string) string {
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if len(segments) >= 2 {
		for _, prefix := range youtubePathPrefixes {
			if segments[0] == prefix {
				return segments[1]
			}
		}
	}
	return ""
}

func validID(platform types.Platform, id string) bool {
	if id == "" {
		return false
	}
	switch platform {
	case types.PlatformInstagram:
		return shortcodePattern.MatchString(id)
	case types.PlatformTikTok:
		return id == ShortLinkID || tiktokIDPattern.MatchString(id)
	case types.PlatformYouTube:
		return youtubeIDPattern.MatchString(id)
	}
	return false
}
