package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/circuitbreaker"
	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
)

const (
	NameTikTokMirror    = "tiktok.mirror"
	NameTikTokPageState = "tiktok.page_state"
	NameTikTokHTMLScan  = "tiktok.html_scan"
	NameTikTokOpenGraph = "tiktok.open_graph"
)

// TikTokMirror asks third-party analyzer mirrors in order. Each mirror sits
// behind its own breaker so a dead mirror is skipped quickly.
type TikTokMirror struct {
	fetch    *fetcher
	cfg      config.TikTokConfig
	breakers *circuitbreaker.Set
	logger   *zap.Logger
}

// NewTikTokMirror creates the mirror strategy
func NewTikTokMirror(client *http.Client, cfg config.TikTokConfig, breakers *circuitbreaker.Set, logger *zap.Logger) *TikTokMirror {
	logger = logger.Named(NameTikTokMirror)
	return &TikTokMirror{
		fetch:    newFetcher(client, logger),
		cfg:      cfg,
		breakers: breakers,
		logger:   logger,
	}
}

func (s *TikTokMirror) Name() string { return NameTikTokMirror }

type mirrorResponse struct {
	Success bool               `json:"success"`
	Data    payload.MirrorData `json:"data"`
}

func (s *TikTokMirror) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	if len(s.cfg.Mirrors) == 0 {
		return nil, errors.New("no mirrors configured")
	}

	var failures *multierror.Error
	for _, mirror := range s.cfg.Mirrors {
		if ctx.Err() != nil {
			break
		}

		host := mirrorHost(mirror)
		var data payload.MirrorData
		err := s.breakers.Get(host).Execute(ctx, func(ctx context.Context) error {
			var err error
			data, err = s.query(ctx, mirror, target.URL)
			return err
		})
		if err == nil {
			return payload.TikTokMirror{VideoID: target.ID, Mirror: host, Data: data}, nil
		}

		s.logger.Debug("Mirror failed", zap.String("mirror", host), zap.Error(err))
		failures = multierror.Append(failures, fmt.Errorf("%s: %w", host, err))
	}
	return nil, apperrors.ErrExtractionExhausted.WithMessage("no mirror returned a video").WithCause(failures.ErrorOrNil())
}

func (s *TikTokMirror) query(ctx context.Context, mirror, postURL string) (payload.MirrorData, error) {
	resp, err := s.fetch.do(ctx, request{
		URL: mirror + url.QueryEscape(postURL),
		Header: map[string]string{
			"User-Agent":   normalizer.BrowserUserAgent,
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
		Timeout: s.cfg.MirrorTimeout,
		Retries: s.cfg.Retries,
	})
	if err != nil {
		return payload.MirrorData{}, err
	}

	var out mirrorResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return payload.MirrorData{}, fmt.Errorf("mirror response is not JSON: %w", err)
	}
	if !out.Success {
		return payload.MirrorData{}, errors.New("mirror reported failure")
	}
	if out.Data.VideoURL == "" && out.Data.DownloadURL == "" {
		return payload.MirrorData{}, errors.New("mirror response has no video URL")
	}
	return out.Data, nil
}

func mirrorHost(mirror string) string {
	if u, err := url.Parse(mirror); err == nil && u.Host != "" {
		return u.Host
	}
	return mirror
}

// tiktokPage fetches the post page once per chain run and parses it
type tiktokPage struct {
	fetch *fetcher
	cfg   config.TikTokConfig
}

type fetchedPage struct {
	html    string
	doc     *goquery.Document
	cookies string
}

func (p *tiktokPage) load(ctx context.Context, target classifier.Target) (*fetchedPage, error) {
	resp, err := memoized(ctx, "tiktok:"+target.URL, func() (*response, error) {
		return p.fetch.do(ctx, request{
			URL: target.URL,
			Header: map[string]string{
				"User-Agent":                normalizer.BrowserUserAgent,
				"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
				"Accept-Language":           "en-US,en;q=0.5",
				"DNT":                       "1",
				"Upgrade-Insecure-Requests": "1",
				"Sec-Fetch-Dest":            "document",
				"Sec-Fetch-Mode":            "navigate",
				"Sec-Fetch-Site":            "none",
				"Cache-Control":             "max-age=0",
			},
			Timeout: p.cfg.PageTimeout,
			Retries: p.cfg.Retries,
		})
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("TikTok page is not parseable").WithCause(err)
	}
	return &fetchedPage{html: string(resp.Body), doc: doc, cookies: resp.Cookies}, nil
}

// TikTokPageState decodes the state blob the web app embeds in the page
type TikTokPageState struct {
	page tiktokPage
}

// NewTikTokPageState creates the page-state strategy
func NewTikTokPageState(client *http.Client, cfg config.TikTokConfig, logger *zap.Logger) *TikTokPageState {
	return &TikTokPageState{page: tiktokPage{fetch: newFetcher(client, logger.Named(NameTikTokPageState)), cfg: cfg}}
}

func (s *TikTokPageState) Name() string { return NameTikTokPageState }

type webappVideo struct {
	Video struct {
		VideoDetail struct {
			Video *payload.PageVideo `json:"video"`
		} `json:"videoDetail"`
	} `json:"video"`
}

type initialState struct {
	DefaultScope struct {
		Webapp webappVideo `json:"webapp"`
	} `json:"defaultScope"`
}

type universalData struct {
	Webapp webappVideo `json:"webapp"`
}

type rehydrationData struct {
	DefaultScope struct {
		VideoDetail *struct {
			StatusCode int    `json:"statusCode"`
			StatusMsg  string `json:"statusMsg"`
			ItemInfo   struct {
				ItemStruct *payload.PageVideo `json:"itemStruct"`
			} `json:"itemInfo"`
		} `json:"webapp.video-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

func (s *TikTokPageState) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	page, err := s.page.load(ctx, target)
	if err != nil {
		return nil, err
	}

	var state initialState
	if decodeAssigned(page.html, "window.__INITIAL_STATE__", &state) {
		if v := state.DefaultScope.Webapp.Video.VideoDetail.Video; v != nil && v.MediaURL() != "" {
			return payload.TikTokPageState{VideoID: target.ID, Video: *v, Cookies: page.cookies}, nil
		}
	}

	var universal universalData
	if decodeAssigned(page.html, "window.__UNIVERSAL_DATA__", &universal) {
		if v := universal.Webapp.Video.VideoDetail.Video; v != nil && v.MediaURL() != "" {
			return payload.TikTokPageState{VideoID: target.ID, Video: *v, Cookies: page.cookies}, nil
		}
	}

	script := page.doc.Find("script#__UNIVERSAL_DATA_FOR_REHYDRATION__").First().Text()
	if script != "" {
		var rehydration rehydrationData
		if err := json.Unmarshal([]byte(script), &rehydration); err == nil && rehydration.DefaultScope.VideoDetail != nil {
			detail := rehydration.DefaultScope.VideoDetail
			if v := detail.ItemInfo.ItemStruct; v != nil && v.MediaURL() != "" {
				return payload.TikTokPageState{VideoID: target.ID, Video: *v, Cookies: page.cookies}, nil
			}
			if detail.StatusCode != 0 {
				return nil, apperrors.ErrNotPublic.WithCause(fmt.Errorf("tiktok status %d: %s", detail.StatusCode, detail.StatusMsg))
			}
		}
	}

	return nil, apperrors.ErrExtractionExhausted.WithMessage("no video detail in page state")
}

// decodeAssigned decodes the JSON object assigned to marker in a script ("marker = {...};")
func decodeAssigned(html, marker string, v interface{}) bool {
	i := strings.Index(html, marker)
	if i < 0 {
		return false
	}
	rest := html[i+len(marker):]
	j := strings.IndexByte(rest, '{')
	if j < 0 || strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest[:j]), "=")) != "" {
		return false
	}
	return json.NewDecoder(strings.NewReader(rest[j:])).Decode(v) == nil
}

// TikTokHTMLScan looks for media URLs anywhere in the raw page
type TikTokHTMLScan struct {
	page tiktokPage
}

// NewTikTokHTMLScan creates the raw-scan strategy
func NewTikTokHTMLScan(client *http.Client, cfg config.TikTokConfig, logger *zap.Logger) *TikTokHTMLScan {
	return &TikTokHTMLScan{page: tiktokPage{fetch: newFetcher(client, logger.Named(NameTikTokHTMLScan)), cfg: cfg}}
}

func (s *TikTokHTMLScan) Name() string { return NameTikTokHTMLScan }

// Ordered from most to least specific
var mediaURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"downloadAddr":"([^"]+)"`),
	regexp.MustCompile(`"playAddr":"([^"]+)"`),
	regexp.MustCompile(`data-video-url="([^"]+)"`),
	regexp.MustCompile(`"(https?:(?:\\u002F|\\/|/){2}[^"]*tiktokcdn[^"]*(?:\\u002F|\\/|/)video(?:\\u002F|\\/|/)tos[^"]*)"`),
	regexp.MustCompile(`"(https?:(?:\\u002F|\\/|/){2}[^"]*\.mp4[^"]*)"`),
}

var thumbnailPattern = regexp.MustCompile(`"(https?:(?:\\u002F|\\/|/){2}[^"]*\.(?:jpe?g|webp|image)[^"]*)"`)

var jsonEscapes = strings.NewReplacer(`\u002F`, "/", `\u002f`, "/", `\/`, "/", `\u0026`, "&", `&amp;`, "&")

// unescapeURL undoes the JSON and HTML escaping TikTok applies to embedded URLs
func unescapeURL(s string) string {
	return jsonEscapes.Replace(s)
}

var imageExtensions = []string{".jpeg", ".jpg", ".webp", ".png", ".heic", ".image", ".gif"}

// isVideoURL accepts mp4 files and TikTok video paths. Avatars and covers
// share the same CDN hosts, so image paths are rejected first.
func isVideoURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(p, ext) {
			return false
		}
	}
	return strings.Contains(p, ".mp4") || strings.Contains(p, "/video/tos/")
}

func (s *TikTokHTMLScan) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	page, err := s.page.load(ctx, target)
	if err != nil {
		return nil, err
	}

	var videoURL string
	for _, re := range mediaURLPatterns {
		for _, m := range re.FindAllStringSubmatch(page.html, -1) {
			candidate := unescapeURL(m[1])
			if isVideoURL(candidate) {
				videoURL = candidate
				break
			}
		}
		if videoURL != "" {
			break
		}
	}
	if videoURL == "" {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("no media URL in page")
	}

	og := openGraph(page.doc)
	thumb := og.first("og:image")
	if thumb == "" {
		if m := thumbnailPattern.FindStringSubmatch(page.html); m != nil {
			thumb = unescapeURL(m[1])
		}
	}

	return payload.TikTokHTMLScan{
		VideoID:      target.ID,
		VideoURL:     videoURL,
		ThumbnailURL: thumb,
		Title:        og.first("og:title"),
		Description:  og.first("og:description"),
		Cookies:      page.cookies,
	}, nil
}

// TikTokOpenGraph uses only the page's Open Graph tags. Without an og:video tag it fails.
type TikTokOpenGraph struct {
	page tiktokPage
}

// NewTikTokOpenGraph creates the Open Graph strategy
func NewTikTokOpenGraph(client *http.Client, cfg config.TikTokConfig, logger *zap.Logger) *TikTokOpenGraph {
	return &TikTokOpenGraph{page: tiktokPage{fetch: newFetcher(client, logger.Named(NameTikTokOpenGraph)), cfg: cfg}}
}

func (s *TikTokOpenGraph) Name() string { return NameTikTokOpenGraph }

func (s *TikTokOpenGraph) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	page, err := s.page.load(ctx, target)
	if err != nil {
		return nil, err
	}

	og := openGraph(page.doc)
	videoURL := og.first("og:video:secure_url", "og:video", "og:video:url")
	if videoURL == "" {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("page carries no og:video")
	}

	return payload.TikTokOpenGraph{
		VideoID:      target.ID,
		VideoURL:     videoURL,
		Title:        og.first("og:title"),
		Description:  og.first("og:description"),
		ThumbnailURL: og.first("og:image"),
		Cookies:      page.cookies,
	}, nil
}
