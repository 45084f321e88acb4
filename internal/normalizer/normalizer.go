// Package normalizer converts strategy payloads into MediaRecords.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// BrowserUserAgent is sent to CDNs that reject non-browser clients
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultHeaders returns the headers a platform's CDN expects on media requests
func DefaultHeaders(p types.Platform) map[string]string {
	switch p {
	case types.PlatformInstagram:
		return map[string]string{
			"User-Agent": BrowserUserAgent,
			"Referer":    "https://www.instagram.com/",
		}
	case types.PlatformTikTok:
		return map[string]string{
			"User-Agent": BrowserUserAgent,
			"Referer":    "https://www.tiktok.com/",
		}
	case types.PlatformYouTube:
		return map[string]string{
			"User-Agent": BrowserUserAgent,
		}
	}
	return map[string]string{"User-Agent": BrowserUserAgent}
}

// Normalizer maps payload variants to records
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer. now stamps synthesized filenames; nil means time.Now.
func New(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize maps p for the post with the given id. strategy is recorded on the result.
func (n *Normalizer) Normalize(p payload.Payload, id string, strategy string) (types.MediaRecord, error) {
	var rec types.MediaRecord

	switch v := p.(type) {
	case payload.InstagramPage:
		rec = n.instagramPage(v, id)
	case payload.InstagramGraphQL:
		rec = n.instagramGraphQL(v, id)
	case payload.TikTokMirror:
		rec = n.tiktokMirror(v, id)
	case payload.TikTokPageState:
		rec = n.tiktokPageState(v, id)
	case payload.TikTokHTMLScan:
		rec = n.tiktokHTMLScan(v, id)
	case payload.TikTokOpenGraph:
		rec = n.tiktokOpenGraph(v, id)
	case payload.ToolInfo:
		rec = n.toolInfo(v, id)
	case payload.YouTubeNative:
		rec = n.youtubeNative(v, id)
	default:
		return types.MediaRecord{}, apperrors.ErrInternal.WithMessage("unknown payload %T", p)
	}

	if rec.MediaURL == "" {
		return types.MediaRecord{}, apperrors.ErrExtractionExhausted.WithMessage("%s returned no media URL", p.Source())
	}
	if rec.Owner.Username == "" {
		rec.Owner.Username = "unknown"
	}
	if rec.Delivery == "" {
		rec.Delivery = types.DeliveryProxy
	}
	rec.Strategy = strategy
	return rec, nil
}

func (n *Normalizer) instagramPage(v payload.InstagramPage, id string) types.MediaRecord {
	return types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformInstagram,
		MediaURL:        v.VideoURL,
		RequiredHeaders: DefaultHeaders(types.PlatformInstagram),
		ThumbnailURL:    v.ThumbnailURL,
		Title:           firstNonEmpty(v.Title, "Instagram video"),
		Description:     v.Description,
		Width:           dimension(int64(v.Width)),
		Height:          dimension(int64(v.Height)),
		Filename:        PlatformFilename(types.PlatformInstagram, id, ExtVideo),
		Owner:           types.Owner{Username: v.Username},
		Hashtags:        Hashtags(v.Description),
	}
}

func (n *Normalizer) instagramGraphQL(v payload.InstagramGraphQL, id string) types.MediaRecord {
	m := v.Media
	caption := m.CaptionText()
	title := truncateRunes(firstLine(caption), 100)
	if title == "" && m.Owner.Username != "" {
		title = "Instagram video by @" + m.Owner.Username
	}

	views := int64(m.VideoViews)
	if int64(m.VideoPlays) > views {
		views = int64(m.VideoPlays)
	}

	return types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformInstagram,
		MediaURL:        m.VideoURL,
		RequiredHeaders: DefaultHeaders(types.PlatformInstagram),
		ThumbnailURL:    firstNonEmpty(m.ThumbnailSrc, m.DisplayURL),
		Title:           firstNonEmpty(title, "Instagram video"),
		Description:     caption,
		DurationSeconds: float64(m.VideoDuration),
		Width:           dimension(int64(m.Dimensions.Width)),
		Height:          dimension(int64(m.Dimensions.Height)),
		Filename:        PlatformFilename(types.PlatformInstagram, id, ExtVideo),
		Owner: types.Owner{
			Username:      m.Owner.Username,
			FullName:      m.Owner.FullName,
			ProfilePicURL: m.Owner.ProfilePicURL,
			IsVerified:    m.Owner.IsVerified,
		},
		Stats: &types.Stats{
			Likes:    int64(m.Likes.Count),
			Comments: int64(m.Comments.Count),
			Views:    views,
		},
		PostedAt: int64(m.TakenAt),
		Hashtags: Hashtags(caption),
	}
}

func (n *Normalizer) tiktokMirror(v payload.TikTokMirror, id string) types.MediaRecord {
	d := v.Data
	shares := int64(d.Stats.ShareCount)
	text := firstNonEmpty(d.Title, d.Desc)

	rec := types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformTikTok,
		MediaURL:        firstNonEmpty(d.VideoURL, d.DownloadURL),
		RequiredHeaders: DefaultHeaders(types.PlatformTikTok),
		ThumbnailURL:    firstNonEmpty(d.Cover, d.Thumbnail),
		Title:           firstNonEmpty(truncateRunes(text, 100), "TikTok video"),
		Description:     firstNonEmpty(d.Desc, d.Title),
		DurationSeconds: float64(d.Duration),
		Width:           dimension(int64(d.Width)),
		Height:          dimension(int64(d.Height)),
		Filename:        PlatformFilename(types.PlatformTikTok, id, ExtVideo),
		Owner: types.Owner{
			Username:      firstNonEmpty(d.Author.UniqueID, d.Author.Username),
			FullName:      firstNonEmpty(d.Author.Nickname, d.Author.DisplayName),
			ProfilePicURL: firstNonEmpty(d.Author.AvatarLarger, d.Author.Avatar),
			IsVerified:    d.Author.Verified,
		},
		Stats: &types.Stats{
			Likes:    int64(d.Stats.DiggCount),
			Comments: int64(d.Stats.CommentCount),
			Shares:   &shares,
			Views:    int64(d.Stats.PlayCount),
		},
		PostedAt: int64(d.CreateTime),
		Hashtags: Hashtags(text),
	}
	if d.Music.Title != "" || d.Music.PlayURL != "" {
		rec.Music = &types.Music{Title: d.Music.Title, Author: d.Music.Author, URL: d.Music.PlayURL}
	}
	return rec
}

func (n *Normalizer) tiktokPageState(v payload.TikTokPageState, id string) types.MediaRecord {
	pv := v.Video
	shares := int64(pv.Stats.ShareCount)

	rec := types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformTikTok,
		MediaURL:        pv.MediaURL(),
		RequiredHeaders: tiktokHeaders(v.Cookies),
		ThumbnailURL:    firstNonEmpty(pv.Cover, pv.DynamicCover),
		Title:           firstNonEmpty(truncateRunes(pv.Desc, 100), "TikTok video"),
		Description:     pv.Desc,
		DurationSeconds: float64(pv.Duration),
		Width:           dimension(int64(pv.Width)),
		Height:          dimension(int64(pv.Height)),
		Filename:        PlatformFilename(types.PlatformTikTok, id, ExtVideo),
		Owner: types.Owner{
			Username:      pv.Author.UniqueID,
			FullName:      pv.Author.Nickname,
			ProfilePicURL: pv.Author.AvatarLarger,
			IsVerified:    pv.Author.Verified,
		},
		Stats: &types.Stats{
			Likes:    int64(pv.Stats.DiggCount),
			Comments: int64(pv.Stats.CommentCount),
			Shares:   &shares,
			Views:    int64(pv.Stats.PlayCount),
		},
		PostedAt: int64(pv.CreateTime),
		Hashtags: Hashtags(pv.Desc),
	}
	if pv.Video != nil {
		rec.ThumbnailURL = firstNonEmpty(pv.Video.Cover, pv.Video.DynamicCover, rec.ThumbnailURL)
		if rec.DurationSeconds == 0 {
			rec.DurationSeconds = float64(pv.Video.Duration)
		}
		if rec.Width == "" {
			rec.Width, rec.Height = dimension(int64(pv.Video.Width)), dimension(int64(pv.Video.Height))
		}
	}
	if pv.Music.Title != "" || pv.Music.PlayURL != "" {
		rec.Music = &types.Music{Title: pv.Music.Title, Author: pv.Music.AuthorName, URL: pv.Music.PlayURL}
	}
	return rec
}

func (n *Normalizer) tiktokHTMLScan(v payload.TikTokHTMLScan, id string) types.MediaRecord {
	return types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformTikTok,
		MediaURL:        v.VideoURL,
		RequiredHeaders: tiktokHeaders(v.Cookies),
		ThumbnailURL:    v.ThumbnailURL,
		Title:           firstNonEmpty(truncateRunes(v.Title, 100), "TikTok video"),
		Description:     v.Description,
		Filename:        PlatformFilename(types.PlatformTikTok, id, ExtVideo),
		Hashtags:        Hashtags(v.Description),
	}
}

func (n *Normalizer) tiktokOpenGraph(v payload.TikTokOpenGraph, id string) types.MediaRecord {
	return types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformTikTok,
		MediaURL:        v.VideoURL,
		RequiredHeaders: tiktokHeaders(v.Cookies),
		ThumbnailURL:    v.ThumbnailURL,
		Title:           firstNonEmpty(truncateRunes(v.Title, 100), "TikTok video"),
		Description:     v.Description,
		Filename:        PlatformFilename(types.PlatformTikTok, id, ExtVideo),
		Hashtags:        Hashtags(v.Description),
	}
}

func (n *Normalizer) toolInfo(v payload.ToolInfo, id string) types.MediaRecord {
	info := v.Info
	rec := types.MediaRecord{
		ID:              id,
		Platform:        v.Platform,
		RequiredHeaders: DefaultHeaders(v.Platform),
		ThumbnailURL:    info.Thumbnail,
		Title:           firstNonEmpty(info.Title, string(v.Platform)+" video"),
		Description:     info.Description,
		DurationSeconds: info.Duration,
		Width:           dimension(int64(info.Width)),
		Height:          dimension(int64(info.Height)),
		Owner: types.Owner{
			Username: firstNonEmpty(info.UploaderID, info.Uploader, info.Channel),
			FullName: firstNonEmpty(info.Uploader, info.Channel),
		},
		Stats: &types.Stats{
			Likes:    info.LikeCount,
			Comments: info.CommentCount,
			Views:    info.ViewCount,
		},
		PostedAt: info.Timestamp,
		Hashtags: info.Tags,
	}

	// YouTube stream URLs are bound to the resolving client, so the tool fetches the bytes itself
	if v.Platform == types.PlatformYouTube || info.URL == "" {
		rec.Delivery = types.DeliveryTool
		rec.MediaURL = firstNonEmpty(v.PostURL, info.WebpageURL)
	} else {
		rec.Delivery = types.DeliveryProxy
		rec.MediaURL = info.URL
	}

	if v.Platform == types.PlatformYouTube {
		rec.Filename = YouTubeFilename(info.Title, id, n.now(), ExtVideo)
	} else {
		rec.Filename = PlatformFilename(v.Platform, id, ExtVideo)
	}
	return rec
}

func (n *Normalizer) youtubeNative(v payload.YouTubeNative, id string) types.MediaRecord {
	rec := types.MediaRecord{
		ID:              id,
		Platform:        types.PlatformYouTube,
		MediaURL:        v.StreamURL,
		Delivery:        types.DeliveryProxy,
		RequiredHeaders: DefaultHeaders(types.PlatformYouTube),
		ThumbnailURL:    v.ThumbnailURL,
		Title:           firstNonEmpty(v.Title, "YouTube video"),
		Description:     v.Description,
		DurationSeconds: v.Duration.Seconds(),
		Width:           dimension(int64(v.Width)),
		Height:          dimension(int64(v.Height)),
		Filename:        YouTubeFilename(v.Title, id, n.now(), ExtVideo),
		Owner:           types.Owner{Username: v.Author, FullName: v.Author},
	}
	if !v.PublishDate.IsZero() {
		rec.PostedAt = v.PublishDate.Unix()
	}
	return rec
}

// dimension renders a pixel size; unknown sizes stay empty
func dimension(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func tiktokHeaders(cookies string) map[string]string {
	h := DefaultHeaders(types.PlatformTikTok)
	if cookies != "" {
		h["Cookie"] = cookies
	}
	return h
}

// PlatformFilename builds "<platform>-<id><ext>"
func PlatformFilename(p types.Platform, id string, ext string) string {
	return SafeFilename(fmt.Sprintf("%s-%s", p, id), ext)
}

// YouTubeFilename builds "youtube-<title>-<id>-<date><ext>" with the title bounded
func YouTubeFilename(title, id string, at time.Time, ext string) string {
	parts := []string{"youtube"}
	if t := sanitizeStem(title, MaxTitleLength); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, id, at.UTC().Format("2006-01-02"))
	return SafeFilename(strings.Join(parts, "-"), ext)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
