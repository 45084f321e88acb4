// Package payload defines the raw results strategies hand to the normalizer.
// Each platform/strategy pair has its own variant so the normalizer can map them explicitly.
package payload

import (
	"bytes"
	"strconv"
	"time"

	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Source names the strategy family that produced a payload
type Source string

const (
	SourceInstagramPage    Source = "instagram.page"
	SourceInstagramGraphQL Source = "instagram.graphql"
	SourceTikTokMirror     Source = "tiktok.mirror"
	SourceTikTokPageState  Source = "tiktok.page_state"
	SourceTikTokHTMLScan   Source = "tiktok.html_scan"
	SourceTikTokOpenGraph  Source = "tiktok.open_graph"
	SourceTool             Source = "tool"
	SourceYouTubeNative    Source = "youtube.native"
)

// Payload is implemented only by the variants in this package
type Payload interface {
	Source() Source
	payload()
}

// Int64 decodes JSON numbers that upstreams sometimes send as strings
type Int64 int64

// UnmarshalJSON accepts 12, 12.0, "12" and null
func (n *Int64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		*n = Int64(v)
		return nil
	}
	// unparsable counters are treated as absent
	f, _ := strconv.ParseFloat(string(b), 64)
	*n = Int64(f)
	return nil
}

// Float64 decodes a JSON number that may be quoted
type Float64 float64

// UnmarshalJSON accepts 1.5, "1.5" and null
func (n *Float64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	f, _ := strconv.ParseFloat(string(b), 64)
	*n = Float64(f)
	return nil
}

// InstagramPage holds Open Graph data scraped from the public post page
type InstagramPage struct {
	Shortcode    string
	VideoURL     string
	Width        int
	Height       int
	Title        string
	Description  string
	ThumbnailURL string
	Username     string
}

func (InstagramPage) Source() Source { return SourceInstagramPage }
func (InstagramPage) payload()       {}

// InstagramGraphQL holds data.xdt_shortcode_media from the GraphQL endpoint
type InstagramGraphQL struct {
	Media GraphQLMedia
}

func (InstagramGraphQL) Source() Source { return SourceInstagramGraphQL }
func (InstagramGraphQL) payload()       {}

// GraphQLMedia mirrors the fields of xdt_shortcode_media that are consumed
type GraphQLMedia struct {
	Typename      string  `json:"__typename"`
	Shortcode     string  `json:"shortcode"`
	IsVideo       bool    `json:"is_video"`
	VideoURL      string  `json:"video_url"`
	DisplayURL    string  `json:"display_url"`
	ThumbnailSrc  string  `json:"thumbnail_src"`
	VideoDuration Float64 `json:"video_duration"`
	VideoViews    Int64   `json:"video_view_count"`
	VideoPlays    Int64   `json:"video_play_count"`
	TakenAt       Int64   `json:"taken_at_timestamp"`
	Dimensions    struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
	Caption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	Owner struct {
		Username      string `json:"username"`
		FullName      string `json:"full_name"`
		ProfilePicURL string `json:"profile_pic_url"`
		IsVerified    bool   `json:"is_verified"`
	} `json:"owner"`
	Likes struct {
		Count Int64 `json:"count"`
	} `json:"edge_media_preview_like"`
	Comments struct {
		Count Int64 `json:"count"`
	} `json:"edge_media_to_parent_comment"`
}

// CaptionText returns the first caption, if any
func (m GraphQLMedia) CaptionText() string {
	if len(m.Caption.Edges) == 0 {
		return ""
	}
	return m.Caption.Edges[0].Node.Text
}

// TikTokMirror is the analyze response of a third-party mirror
type TikTokMirror struct {
	VideoID string
	Mirror  string
	Data    MirrorData
}

func (TikTokMirror) Source() Source { return SourceTikTokMirror }
func (TikTokMirror) payload()       {}

// MirrorData is the data object of a mirror response
type MirrorData struct {
	VideoURL    string  `json:"video_url"`
	DownloadURL string  `json:"download_url"`
	Cover       string  `json:"cover"`
	Thumbnail   string  `json:"thumbnail"`
	Title       string  `json:"title"`
	Desc        string  `json:"desc"`
	Duration    Float64 `json:"duration"`
	Width       Int64   `json:"width"`
	Height      Int64   `json:"height"`
	Size        Int64   `json:"size"`
	CreateTime  Int64   `json:"create_time"`
	Author      struct {
		UniqueID     string `json:"unique_id"`
		Username     string `json:"username"`
		Nickname     string `json:"nickname"`
		DisplayName  string `json:"display_name"`
		AvatarLarger string `json:"avatar_larger"`
		Avatar       string `json:"avatar"`
		Verified     bool   `json:"verified"`
	} `json:"author"`
	Stats struct {
		DiggCount    Int64 `json:"digg_count"`
		CommentCount Int64 `json:"comment_count"`
		ShareCount   Int64 `json:"share_count"`
		PlayCount    Int64 `json:"play_count"`
	} `json:"stats"`
	Music struct {
		Title   string `json:"title"`
		Author  string `json:"author"`
		PlayURL string `json:"play_url"`
	} `json:"music"`
}

// TikTokPageState is the video object embedded in the page's state script
type TikTokPageState struct {
	VideoID string
	Video   PageVideo
	Cookies string
}

func (TikTokPageState) Source() Source { return SourceTikTokPageState }
func (TikTokPageState) payload()       {}

// PageVideo covers both the flat legacy state shape and the nested itemStruct shape
type PageVideo struct {
	ID           string  `json:"id"`
	Desc         string  `json:"desc"`
	CreateTime   Int64   `json:"createTime"`
	DownloadAddr string  `json:"downloadAddr"`
	PlayAddr     string  `json:"playAddr"`
	Cover        string  `json:"cover"`
	DynamicCover string  `json:"dynamicCover"`
	Duration     Float64 `json:"duration"`
	Width        Int64   `json:"width"`
	Height       Int64   `json:"height"`
	FileSize     Int64   `json:"fileSize"`
	Video        *struct {
		DownloadAddr string  `json:"downloadAddr"`
		PlayAddr     string  `json:"playAddr"`
		Cover        string  `json:"cover"`
		DynamicCover string  `json:"dynamicCover"`
		Duration     Float64 `json:"duration"`
		Width        Int64   `json:"width"`
		Height       Int64   `json:"height"`
	} `json:"video"`
	Author struct {
		UniqueID     string `json:"uniqueId"`
		Nickname     string `json:"nickname"`
		AvatarLarger string `json:"avatarLarger"`
		Verified     bool   `json:"verified"`
	} `json:"author"`
	Stats struct {
		DiggCount    Int64 `json:"diggCount"`
		CommentCount Int64 `json:"commentCount"`
		ShareCount   Int64 `json:"shareCount"`
		PlayCount    Int64 `json:"playCount"`
	} `json:"stats"`
	Music struct {
		Title      string `json:"title"`
		AuthorName string `json:"authorName"`
		PlayURL    string `json:"playUrl"`
	} `json:"music"`
}

// MediaURL returns the best playable address from either shape
func (v PageVideo) MediaURL() string {
	if v.Video != nil {
		if v.Video.DownloadAddr != "" {
			return v.Video.DownloadAddr
		}
		if v.Video.PlayAddr != "" {
			return v.Video.PlayAddr
		}
	}
	if v.DownloadAddr != "" {
		return v.DownloadAddr
	}
	return v.PlayAddr
}

// TikTokHTMLScan holds URLs found by pattern scanning the raw page
type TikTokHTMLScan struct {
	VideoID      string
	VideoURL     string
	ThumbnailURL string
	Title        string
	Description  string
	Cookies      string
}

func (TikTokHTMLScan) Source() Source { return SourceTikTokHTMLScan }
func (TikTokHTMLScan) payload()       {}

// TikTokOpenGraph holds the page's Open Graph tags
type TikTokOpenGraph struct {
	VideoID      string
	VideoURL     string
	Title        string
	Description  string
	ThumbnailURL string
	Cookies      string
}

func (TikTokOpenGraph) Source() Source { return SourceTikTokOpenGraph }
func (TikTokOpenGraph) payload()       {}

// ToolInfo wraps the external tool's info document for any platform
type ToolInfo struct {
	Platform types.Platform
	PostURL  string
	Info     types.ToolInfo
}

func (ToolInfo) Source() Source { return SourceTool }
func (ToolInfo) payload()       {}

// YouTubeNative holds the result of the in-process YouTube client
type YouTubeNative struct {
	VideoID      string
	Title        string
	Description  string
	Author       string
	Duration     time.Duration
	PublishDate  time.Time
	ThumbnailURL string
	StreamURL    string
	Width        int
	Height       int
}

func (YouTubeNative) Source() Source { return SourceYouTubeNative }
func (YouTubeNative) payload()       {}
