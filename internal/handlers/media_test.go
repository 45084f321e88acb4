package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/delivery"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/extractor"
	"github.com/KeremKalyoncu/reelgrab/internal/middleware"
	"github.com/KeremKalyoncu/reelgrab/internal/resolver"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

const (
	tiktokPost  = "https://www.tiktok.com/@creator/video/7234567890123456789"
	youtubePost = "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123"
)

type fakeResolver struct {
	mu          sync.Mutex
	record      types.MediaRecord
	err         error
	cached      bool
	invalidated []classifier.Target
}

func (f *fakeResolver) Classify(ctx context.Context, rawURL string) (classifier.Target, error) {
	return classifier.Classify(rawURL)
}

func (f *fakeResolver) ResolveTarget(ctx context.Context, target classifier.Target) (*resolver.Resolution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &resolver.Resolution{Target: target, Record: f.record.Clone(), Cached: f.cached}, nil
}

func (f *fakeResolver) Invalidate(_ context.Context, target classifier.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, target)
}

// fakeDownloader writes content into the requested directory like the tool would
type fakeDownloader struct {
	mu      sync.Mutex
	content string
	title   string
	err     error
	reqs    []extractor.DownloadRequest
	paths   []string
}

func (d *fakeDownloader) Download(ctx context.Context, req extractor.DownloadRequest) (*types.ProcessResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return &types.ProcessResult{Error: d.err.Error()}, d.err
	}

	ext := ".mp4"
	if req.AudioOnly {
		ext = ".mp3"
	}
	path := filepath.Join(req.DestDir, req.Stem+ext)
	if err := os.WriteFile(path, []byte(d.content), 0644); err != nil {
		return nil, err
	}
	d.paths = append(d.paths, path)
	return &types.ProcessResult{
		Success:  true,
		FilePath: path,
		Size:     int64(len(d.content)),
		Info:     &types.ToolInfo{Title: d.title},
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Platforms: map[types.Platform]config.PlatformConfig{},
		Extractor: config.ExtractorConfig{TempDir: t.TempDir()},
		Delivery: config.DeliveryConfig{
			ProxyAllowedHosts: config.DefaultProxyAllowedHosts,
			BlockedRetryAfter: time.Minute,
		},
	}
	for _, p := range types.Platforms {
		cfg.Platforms[p] = config.PlatformConfig{
			EnableServerAPI: true,
			PermanentBlock:  p == types.PlatformYouTube,
			ToolDelivery:    p == types.PlatformYouTube,
		}
	}
	return cfg
}

func newTestApp(r Resolver, d delivery.Downloader, cfg *config.Config) *fiber.App {
	logger := zap.NewNop()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	app.Use(middleware.RequestIDMiddleware())

	engine := delivery.NewEngine(delivery.Options{ChunkSize: 64}, logger)
	h := NewMediaHandler(r, engine, d, cfg, logger)
	app.Get("/resolve", h.Resolve)
	app.Get("/download", h.Download)
	app.Post("/audio", middleware.RequireJSON(), h.Audio)
	return app
}

func tiktokRecord(mediaURL string) types.MediaRecord {
	return types.MediaRecord{
		ID:       "7234567890123456789",
		Platform: types.PlatformTikTok,
		MediaURL: mediaURL,
		Delivery: types.DeliveryProxy,
		Title:    "dance",
		Filename: "tiktok-7234567890123456789.mp4",
		Owner:    types.Owner{Username: "creator"},
		Strategy: "tiktok.mirror",
	}
}

func get(t *testing.T, app *fiber.App, path string, query url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) middleware.ErrorBody {
	t.Helper()
	var body middleware.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestResolve(t *testing.T) {
	r := &fakeResolver{record: tiktokRecord("https://v16.tiktokcdn.com/video.mp4")}
	app := newTestApp(r, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/resolve", url.Values{"postUrl": {tiktokPost}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	var body ResolveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, types.PlatformTikTok, body.Platform)
	assert.Equal(t, "tiktok-7234567890123456789.mp4", body.Record.Filename)
	assert.Equal(t, "creator", body.Record.Owner.Username)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  url.Values
		err    error
		status int
		code   string
		kind   apperrors.Kind
	}{
		{
			name:   "missing postUrl",
			query:  url.Values{},
			status: http.StatusBadRequest,
			code:   "MISSING_PARAMETER",
			kind:   apperrors.KindInvalidInput,
		},
		{
			name:   "not a url",
			query:  url.Values{"postUrl": {"not a url"}},
			status: http.StatusBadRequest,
			code:   "INVALID_URL",
			kind:   apperrors.KindInvalidInput,
		},
		{
			name:   "unsupported host",
			query:  url.Values{"postUrl": {"https://vimeo.com/12345"}},
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_PLATFORM",
			kind:   apperrors.KindInvalidInput,
		},
		{
			name:   "private post",
			query:  url.Values{"postUrl": {tiktokPost}},
			err:    apperrors.ErrNotPublic,
			status: http.StatusUnauthorized,
			code:   "NOT_PUBLIC",
			kind:   apperrors.KindNotPublic,
		},
		{
			name:   "exhausted",
			query:  url.Values{"postUrl": {tiktokPost}},
			err:    apperrors.ErrExtractionExhausted,
			status: http.StatusInternalServerError,
			code:   "EXTRACTION_EXHAUSTED",
			kind:   apperrors.KindExtractionExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeResolver{err: tt.err}, &fakeDownloader{}, testConfig(t))

			resp := get(t, app, "/resolve", tt.query)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeError(t, resp)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, string(tt.kind), body.Kind)
			assert.Equal(t, "/resolve", body.Path)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestResolvePermanentBlock(t *testing.T) {
	r := &fakeResolver{err: apperrors.ErrUpstreamBlocked.WithCause(io.ErrUnexpectedEOF)}
	app := newTestApp(r, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/resolve", url.Values{"postUrl": {youtubePost}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("Retry-After"))

	var body BlockedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "YouTube downloads unavailable", body.Error)
	assert.Equal(t, "permanently_blocked", body.Status)
	assert.True(t, body.IsPermanent)
	assert.Equal(t, youtubePost, body.OriginalURL)
	assert.Equal(t, "PERMANENTLY_BLOCKED", body.Code)
	require.NotEmpty(t, body.Alternatives)
	assert.Equal(t, "YouTube Premium", body.Alternatives[0].Name)
}

func TestResolveTransientBlock(t *testing.T) {
	r := &fakeResolver{err: apperrors.ErrUpstreamBlocked}
	app := newTestApp(r, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/resolve", url.Values{"postUrl": {tiktokPost}})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	assert.Equal(t, "UPSTREAM_BLOCKED", decodeError(t, resp).Code)
}

func TestDownloadProxy(t *testing.T) {
	media := strings.Repeat("0123456789", 100)
	var gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, media)
	}))
	defer upstream.Close()

	rec := tiktokRecord(upstream.URL + "/v.mp4")
	rec.RequiredHeaders = map[string]string{"Referer": "https://www.tiktok.com/"}
	app := newTestApp(&fakeResolver{record: rec}, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/download", url.Values{"url": {tiktokPost}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, media, string(body))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="tiktok-7234567890123456789.mp4"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "https://www.tiktok.com/", gotReferer)
}

func TestDownloadFilenameOverride(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "bytes")
	}))
	defer upstream.Close()

	app := newTestApp(&fakeResolver{record: tiktokRecord(upstream.URL)}, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/download", url.Values{"url": {tiktokPost}, "filename": {"../My Clip!.mov"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="My-Clip.mp4"`, resp.Header.Get("Content-Disposition"))
}

func TestDownloadUpstreamRefusalInvalidatesRecord(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	r := &fakeResolver{record: tiktokRecord(upstream.URL)}
	app := newTestApp(r, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/download", url.Values{"url": {tiktokPost}})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_MEDIA_ERROR", decodeError(t, resp).Code)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.invalidated, 1)
	assert.Equal(t, "7234567890123456789", r.invalidated[0].ID)
}

func TestDownloadPlatformDisabled(t *testing.T) {
	cfg := testConfig(t)
	pc := cfg.Platforms[types.PlatformTikTok]
	pc.EnableServerAPI = false
	cfg.Platforms[types.PlatformTikTok] = pc

	app := newTestApp(&fakeResolver{record: tiktokRecord("https://v16.tiktokcdn.com/v.mp4")}, &fakeDownloader{}, cfg)

	resp := get(t, app, "/download", url.Values{"url": {tiktokPost}})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, "PLATFORM_DISABLED", decodeError(t, resp).Code)
}

func TestDownloadMissingURL(t *testing.T) {
	app := newTestApp(&fakeResolver{}, &fakeDownloader{}, testConfig(t))

	resp := get(t, app, "/download", url.Values{"filename": {"a.mp4"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_PARAMETER", decodeError(t, resp).Code)
}

func TestDownloadThroughTool(t *testing.T) {
	cfg := testConfig(t)
	rec := types.MediaRecord{
		ID:       "dQw4w9WgXcQ",
		Platform: types.PlatformYouTube,
		Delivery: types.DeliveryTool,
		Filename: "youtube-never-gonna-dQw4w9WgXcQ-2009-10-25.mp4",
	}
	d := &fakeDownloader{content: strings.Repeat("v", 300)}
	app := newTestApp(&fakeResolver{record: rec}, d, cfg)

	resp := get(t, app, "/download", url.Values{"url": {youtubePost}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 300)
	assert.Equal(t, "300", resp.Header.Get("Content-Length"))
	assert.Equal(t, `attachment; filename="youtube-never-gonna-dQw4w9WgXcQ-2009-10-25.mp4"`, resp.Header.Get("Content-Disposition"))

	d.mu.Lock()
	require.Len(t, d.reqs, 1)
	req := d.reqs[0]
	path := d.paths[0]
	d.mu.Unlock()

	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", req.URL)
	assert.Equal(t, cfg.Extractor.TempDir, req.DestDir)
	assert.False(t, req.AudioOnly)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "temp file must be removed after delivery")
}

func TestDownloadCDNHostNotAllowed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Delivery.ProxyAllowedHosts = []string{"fbcdn.net"}
	app := newTestApp(&fakeResolver{}, &fakeDownloader{}, cfg)

	resp := get(t, app, "/download", url.Values{"url": {"https://scontent.cdninstagram.com/v/t50/clip.mp4"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_URL", decodeError(t, resp).Code)
}

func postAudio(t *testing.T, app *fiber.App, body string, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/audio", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func TestAudio(t *testing.T) {
	d := &fakeDownloader{content: "ID3audio", title: "Never Gonna Give You Up"}
	app := newTestApp(&fakeResolver{}, d, testConfig(t))

	resp := postAudio(t, app, `{"url":"`+youtubePost+`"}`, fiber.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(body))
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Never-Gonna-Give-You-Up.mp3"`, resp.Header.Get("Content-Disposition"))

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.reqs, 1)
	assert.True(t, d.reqs[0].AudioOnly)
}

func TestAudioExplicitFilename(t *testing.T) {
	d := &fakeDownloader{content: "ID3", title: "ignored"}
	app := newTestApp(&fakeResolver{}, d, testConfig(t))

	resp := postAudio(t, app, `{"url":"`+youtubePost+`","filename":"track.mp4"}`, fiber.MIMEApplicationJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="track.mp3"`, resp.Header.Get("Content-Disposition"))
}

func TestAudioRejections(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
		code        string
	}{
		{"not json", `url=x`, "application/x-www-form-urlencoded", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing url", `{"filename":"a.mp3"}`, fiber.MIMEApplicationJSON, http.StatusBadRequest, "MISSING_PARAMETER"},
		{"not youtube", `{"url":"` + tiktokPost + `"}`, fiber.MIMEApplicationJSON, http.StatusBadRequest, "UNSUPPORTED_PLATFORM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeResolver{}, &fakeDownloader{}, testConfig(t))

			resp := postAudio(t, app, tt.body, tt.contentType)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestAudioToolFailure(t *testing.T) {
	d := &fakeDownloader{err: apperrors.ErrFileNotCreated}
	app := newTestApp(&fakeResolver{}, d, testConfig(t))

	resp := postAudio(t, app, `{"url":"`+youtubePost+`"}`, fiber.MIMEApplicationJSON)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "FILE_NOT_CREATED", body.Code)
	assert.Equal(t, "file not created", body.Error)
}
