package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
)

const (
	NameInstagramPage    = "instagram.page"
	NameInstagramGraphQL = "instagram.graphql"

	instagramBaseURL = "https://www.instagram.com"

	instagramDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/117.0"
	instagramMobileUA  = "Mozilla/5.0 (Linux; Android 11; SAMSUNG SM-G973U) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/14.2 Chrome/87.0.4280.141 Mobile Safari/537.36"
)

var ogOwnerPattern = regexp.MustCompile(`\(@([A-Za-z0-9._]+)\)`)

// InstagramPage reads the og:video tag of the public post page
type InstagramPage struct {
	fetch   *fetcher
	cfg     config.InstagramConfig
	baseURL string
}

// NewInstagramPage creates the page strategy
func NewInstagramPage(client *http.Client, cfg config.InstagramConfig, logger *zap.Logger) *InstagramPage {
	return &InstagramPage{
		fetch:   newFetcher(client, logger.Named(NameInstagramPage)),
		cfg:     cfg,
		baseURL: instagramBaseURL,
	}
}

func (s *InstagramPage) Name() string { return NameInstagramPage }

func (s *InstagramPage) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	resp, err := s.fetch.do(ctx, request{
		URL: s.baseURL + "/p/" + url.PathEscape(target.ID) + "/",
		Header: map[string]string{
			"Accept":         "*/*",
			"Referer":        "https://www.instagram.com/",
			"DNT":            "1",
			"Sec-Fetch-Dest": "document",
			"Sec-Fetch-Mode": "navigate",
			"Sec-Fetch-Site": "same-origin",
			"User-Agent":     instagramDesktopUA,
			"Cache-Control":  "no-cache",
		},
		Timeout: s.cfg.PageTimeout,
		Retries: s.cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("post page is not parseable").WithCause(err)
	}

	og := openGraph(doc)
	videoURL := og.first("og:video:secure_url", "og:video", "og:video:url")
	if videoURL == "" {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("post page carries no og:video")
	}

	p := payload.InstagramPage{
		Shortcode:    target.ID,
		VideoURL:     videoURL,
		Title:        og.first("og:title"),
		Description:  og.first("og:description"),
		ThumbnailURL: og.first("og:image"),
	}
	p.Width, _ = strconv.Atoi(og.first("og:video:width"))
	p.Height, _ = strconv.Atoi(og.first("og:video:height"))
	if m := ogOwnerPattern.FindStringSubmatch(p.Title); m != nil {
		p.Username = m[1]
	}
	return p, nil
}

// InstagramGraphQL queries the web client's post GraphQL endpoint
type InstagramGraphQL struct {
	fetch   *fetcher
	cfg     config.InstagramConfig
	baseURL string
}

// NewInstagramGraphQL creates the GraphQL strategy
func NewInstagramGraphQL(client *http.Client, cfg config.InstagramConfig, logger *zap.Logger) *InstagramGraphQL {
	return &InstagramGraphQL{
		fetch:   newFetcher(client, logger.Named(NameInstagramGraphQL)),
		cfg:     cfg,
		baseURL: instagramBaseURL,
	}
}

func (s *InstagramGraphQL) Name() string { return NameInstagramGraphQL }

type graphQLResponse struct {
	Data struct {
		Media *payload.GraphQLMedia `json:"xdt_shortcode_media"`
	} `json:"data"`
}

func (s *InstagramGraphQL) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	resp, err := s.fetch.do(ctx, request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/api/graphql",
		Header: map[string]string{
			"Accept":             "*/*",
			"Accept-Language":    "en-US,en;q=0.5",
			"Content-Type":       "application/x-www-form-urlencoded",
			"X-FB-Friendly-Name": "PolarisPostActionLoadPostQueryQuery",
			"X-CSRFToken":        s.cfg.CSRFToken,
			"X-IG-App-ID":        s.cfg.AppID,
			"X-FB-LSD":           s.cfg.LSD,
			"X-ASBD-ID":          s.cfg.ASBDID,
			"Sec-Fetch-Dest":     "empty",
			"Sec-Fetch-Mode":     "cors",
			"Sec-Fetch-Site":     "same-origin",
			"User-Agent":         instagramMobileUA,
			"Cache-Control":      "no-cache",
		},
		Body:    s.form(target.ID),
		Timeout: s.cfg.GraphQLTimeout,
		Retries: s.cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	var out graphQLResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, apperrors.ErrExtractionExhausted.WithMessage("GraphQL response is not JSON").WithCause(err)
	}
	if out.Data.Media == nil {
		return nil, apperrors.ErrNotPublic
	}
	if !out.Data.Media.IsVideo {
		return nil, apperrors.ErrNotVideo
	}
	return payload.InstagramGraphQL{Media: *out.Data.Media}, nil
}

// form encodes the PolarisPostActionLoadPostQuery request for shortcode
func (s *InstagramGraphQL) form(shortcode string) string {
	variables, _ := json.Marshal(map[string]interface{}{
		"shortcode":                   shortcode,
		"fetch_comment_count":         nil,
		"fetch_related_profile_media": nil,
		"parent_comment_count":        nil,
		"child_comment_count":         nil,
		"fetch_like_count":            nil,
		"fetch_tagged_user_count":     nil,
		"fetch_preview_comment_count": nil,
		"has_threaded_comments":       false,
		"hoisted_comment_id":          nil,
		"hoisted_reply_id":            nil,
	})

	v := url.Values{}
	v.Set("av", "0")
	v.Set("__d", "www")
	v.Set("__user", "0")
	v.Set("__a", "1")
	v.Set("__comet_req", "7")
	v.Set("lsd", s.cfg.LSD)
	v.Set("jazoest", "2957")
	v.Set("fb_api_caller_class", "RelayModern")
	v.Set("fb_api_req_friendly_name", "PolarisPostActionLoadPostQueryQuery")
	v.Set("variables", string(variables))
	v.Set("server_timestamps", "true")
	v.Set("doc_id", s.cfg.DocID)
	return v.Encode()
}

// ogTags holds a page's Open Graph properties, first value wins
type ogTags map[string]string

func openGraph(doc *goquery.Document) ogTags {
	tags := ogTags{}
	doc.Find("meta[property^='og:'], meta[name^='og:']").Each(func(_ int, sel *goquery.Selection) {
		key, ok := sel.Attr("property")
		if !ok {
			key, _ = sel.Attr("name")
		}
		content, _ := sel.Attr("content")
		if _, seen := tags[key]; !seen && content != "" {
			tags[key] = content
		}
	})
	return tags
}

func (t ogTags) first(keys ...string) string {
	for _, k := range keys {
		if v := t[k]; v != "" {
			return v
		}
	}
	return ""
}
