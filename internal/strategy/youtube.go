package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/kkdai/youtube/v2"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

const NameYouTubeNative = "youtube.native"

// ToolName returns the registry name of the external-tool strategy for platform
func ToolName(platform types.Platform) string {
	return string(platform) + ".tool"
}

// ToolURL is the URL handed to the external tool for target. YouTube ids are
// passed as canonical watch URLs so playlist and share parameters are dropped.
func ToolURL(target classifier.Target) string {
	if target.Platform == types.PlatformYouTube {
		return "https://www.youtube.com/watch?v=" + target.ID
	}
	return target.URL
}

// InfoFetcher is the metadata side of the external tool gateway
type InfoFetcher interface {
	FetchInfo(ctx context.Context, postURL string, platform types.Platform) (*types.ToolInfo, error)
}

// Tool resolves metadata through the external tool without downloading
type Tool struct {
	platform types.Platform
	fetcher  InfoFetcher
}

// NewTool creates the tool strategy for platform
func NewTool(platform types.Platform, fetcher InfoFetcher) *Tool {
	return &Tool{platform: platform, fetcher: fetcher}
}

func (s *Tool) Name() string { return ToolName(s.platform) }

func (s *Tool) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	postURL := ToolURL(target)
	info, err := s.fetcher.FetchInfo(ctx, postURL, s.platform)
	if err != nil {
		return nil, err
	}
	return payload.ToolInfo{Platform: s.platform, PostURL: postURL, Info: *info}, nil
}

// videoClient is the part of youtube.Client the native strategy uses
type videoClient interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// YouTubeNative resolves a progressive mp4 stream in-process. The stream URL
// it returns is short lived, so records from it are proxied immediately.
type YouTubeNative struct {
	client videoClient
}

// NewYouTubeNative creates the in-process YouTube strategy
func NewYouTubeNative(httpClient *http.Client) *YouTubeNative {
	return &YouTubeNative{client: &youtube.Client{HTTPClient: httpClient}}
}

func (s *YouTubeNative) Name() string { return NameYouTubeNative }

func (s *YouTubeNative) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	video, err := s.client.GetVideoContext(ctx, target.ID)
	if err != nil {
		if errors.Is(err, youtube.ErrVideoPrivate) || errors.Is(err, youtube.ErrLoginRequired) {
			return nil, apperrors.ErrNotPublic.WithCause(err)
		}
		return nil, err
	}

	formats := video.Formats.Type("video/mp4").WithAudioChannels()
	if len(formats) == 0 {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("no progressive mp4 format")
	}
	format := &formats[0]

	streamURL, err := s.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, err
	}

	p := payload.YouTubeNative{
		VideoID:     video.ID,
		Title:       video.Title,
		Description: video.Description,
		Author:      video.Author,
		Duration:    video.Duration,
		PublishDate: video.PublishDate,
		StreamURL:   streamURL,
		Width:       format.Width,
		Height:      format.Height,
	}
	if n := len(video.Thumbnails); n > 0 {
		p.ThumbnailURL = video.Thumbnails[n-1].URL
	}
	return p, nil
}
