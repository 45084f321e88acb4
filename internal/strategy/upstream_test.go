package strategy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/circuitbreaker"
	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

func instagramConfig() config.InstagramConfig {
	return config.InstagramConfig{
		PageTimeout:    time.Second,
		GraphQLTimeout: time.Second,
		AppID:          "1217981644879628",
		CSRFToken:      "csrf",
		LSD:            "lsd",
		ASBDID:         "129477",
		DocID:          "8845758582119845",
	}
}

func tiktokConfig(mirrors ...string) config.TikTokConfig {
	return config.TikTokConfig{
		Mirrors:       mirrors,
		MirrorTimeout: time.Second,
		PageTimeout:   time.Second,
	}
}

const instagramPageHTML = `<html><head>
<meta property="og:title" content="Jane (@jane.doe) on Instagram: &quot;sunset&quot;">
<meta property="og:description" content="12 likes #sunset">
<meta property="og:image" content="https://scontent.cdninstagram.com/thumb.jpg">
<meta property="og:video" content="https://scontent.cdninstagram.com/v.mp4?a=1&amp;b=2">
<meta property="og:video:width" content="720">
<meta property="og:video:height" content="1280">
</head></html>`

func TestInstagramPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/p/Cabc123/", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "Firefox")
		fmt.Fprint(w, instagramPageHTML)
	}))
	defer srv.Close()

	s := NewInstagramPage(srv.Client(), instagramConfig(), zap.NewNop())
	s.baseURL = srv.URL

	p, err := s.Attempt(context.Background(), classifier.Target{Platform: types.PlatformInstagram, ID: "Cabc123"})
	require.NoError(t, err)

	page := p.(payload.InstagramPage)
	assert.Equal(t, "https://scontent.cdninstagram.com/v.mp4?a=1&b=2", page.VideoURL)
	assert.Equal(t, 720, page.Width)
	assert.Equal(t, 1280, page.Height)
	assert.Equal(t, "jane.doe", page.Username)
	assert.Equal(t, "https://scontent.cdninstagram.com/thumb.jpg", page.ThumbnailURL)
}

func TestInstagramPageWithoutVideoTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:title" content="photo"></head></html>`)
	}))
	defer srv.Close()

	s := NewInstagramPage(srv.Client(), instagramConfig(), zap.NewNop())
	s.baseURL = srv.URL

	_, err := s.Attempt(context.Background(), classifier.Target{Platform: types.PlatformInstagram, ID: "Cabc123"})
	assert.Equal(t, apperrors.KindExtractionExhausted, apperrors.KindOf(err))
}

func TestInstagramGraphQL(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind apperrors.Kind
	}{
		{"video", `{"data":{"xdt_shortcode_media":{"shortcode":"Cabc123","is_video":true,"video_url":"https://scontent.cdninstagram.com/v.mp4","video_view_count":"42","dimensions":{"width":720,"height":1280},"owner":{"username":"jane"}}}}`, ""},
		{"missing media", `{"data":{"xdt_shortcode_media":null}}`, apperrors.KindNotPublic},
		{"photo", `{"data":{"xdt_shortcode_media":{"is_video":false}}}`, apperrors.KindNotVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/graphql", r.URL.Path)
				assert.Equal(t, "1217981644879628", r.Header.Get("X-IG-App-ID"))
				assert.Equal(t, "PolarisPostActionLoadPostQueryQuery", r.Header.Get("X-FB-Friendly-Name"))
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "8845758582119845", r.PostForm.Get("doc_id"))
				assert.Contains(t, r.PostForm.Get("variables"), `"shortcode":"Cabc123"`)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			s := NewInstagramGraphQL(srv.Client(), instagramConfig(), zap.NewNop())
			s.baseURL = srv.URL

			p, err := s.Attempt(context.Background(), classifier.Target{Platform: types.PlatformInstagram, ID: "Cabc123"})
			if tt.kind != "" {
				assert.Equal(t, tt.kind, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			media := p.(payload.InstagramGraphQL).Media
			assert.Equal(t, "https://scontent.cdninstagram.com/v.mp4", media.VideoURL)
			assert.Equal(t, payload.Int64(42), media.VideoViews)
		})
	}
}

func TestFetchStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   apperrors.Kind
	}{
		{http.StatusNotFound, apperrors.KindNotPublic},
		{http.StatusUnauthorized, apperrors.KindNotPublic},
		{http.StatusForbidden, apperrors.KindUpstreamBlocked},
		{http.StatusTooManyRequests, apperrors.KindUpstreamBlocked},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newFetcher(srv.Client(), zap.NewNop()).do(context.Background(), request{URL: srv.URL})
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), zap.NewNop())
	f.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	resp, err := f.do(context.Background(), request{URL: srv.URL, Retries: 2})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestTikTokMirrorFallsThroughMirrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/down/analyze", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/empty/analyze", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{}}`)
	})
	mux.HandleFunc("/up/analyze", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tiktokTarget.URL, r.URL.Query().Get("url"))
		fmt.Fprint(w, `{"success":true,"data":{"video_url":"https://v16.tiktokcdn.com/m.mp4","title":"hi #fyp","stats":{"digg_count":"10"}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewTikTokMirror(srv.Client(),
		tiktokConfig(srv.URL+"/down/analyze?url=", srv.URL+"/empty/analyze?url=", srv.URL+"/up/analyze?url="),
		circuitbreaker.NewSet(circuitbreaker.Config{}), zap.NewNop())

	p, err := s.Attempt(context.Background(), tiktokTarget)
	require.NoError(t, err)
	m := p.(payload.TikTokMirror)
	assert.Equal(t, "https://v16.tiktokcdn.com/m.mp4", m.Data.VideoURL)
	assert.Equal(t, payload.Int64(10), m.Data.Stats.DiggCount)
}

func TestTikTokMirrorAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer srv.Close()

	s := NewTikTokMirror(srv.Client(), tiktokConfig(srv.URL+"/a?url=", srv.URL+"/b?url="),
		circuitbreaker.NewSet(circuitbreaker.Config{}), zap.NewNop())

	_, err := s.Attempt(context.Background(), tiktokTarget)
	assert.Equal(t, apperrors.KindExtractionExhausted, apperrors.KindOf(err))
}

func TestTikTokMirrorSkipsOpenBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breakers := circuitbreaker.NewSet(circuitbreaker.Config{
		ReadyToTrip: func(c circuitbreaker.Counts) bool { return c.ConsecutiveFailures >= 1 },
		Timeout:     time.Hour,
	})
	s := NewTikTokMirror(srv.Client(), tiktokConfig(srv.URL+"/a?url="), breakers, zap.NewNop())

	_, err := s.Attempt(context.Background(), tiktokTarget)
	require.Error(t, err)
	_, err = s.Attempt(context.Background(), tiktokTarget)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func tiktokPageServer(t *testing.T, html string, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		http.SetCookie(w, &http.Cookie{Name: "tt_chain_token", Value: "abc"})
		fmt.Fprint(w, html)
	}))
}

func pageTarget(srv *httptest.Server) classifier.Target {
	return classifier.Target{Platform: types.PlatformTikTok, ID: "7123456789", URL: srv.URL + "/@user/video/7123456789"}
}

func TestTikTokPageStateShapes(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"initial state",
			`<script>window.__INITIAL_STATE__ = {"defaultScope":{"webapp":{"video":{"videoDetail":{"video":{"id":"7123456789","playAddr":"https://v16.tiktokcdn.com/init.mp4"}}}}}};</script>`,
			"https://v16.tiktokcdn.com/init.mp4",
		},
		{
			"universal data",
			`<script>window.__UNIVERSAL_DATA__={"webapp":{"video":{"videoDetail":{"video":{"downloadAddr":"https://v16.tiktokcdn.com/uni.mp4"}}}}};</script>`,
			"https://v16.tiktokcdn.com/uni.mp4",
		},
		{
			"rehydration script",
			`<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">{"__DEFAULT_SCOPE__":{"webapp.video-detail":{"statusCode":0,"itemInfo":{"itemStruct":{"id":"7123456789","desc":"hi #fyp","video":{"playAddr":"https://v16.tiktokcdn.com/play.mp4","downloadAddr":"https://v16.tiktokcdn.com/dl.mp4"},"author":{"uniqueId":"user"}}}}}}</script>`,
			"https://v16.tiktokcdn.com/dl.mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tiktokPageServer(t, "<html><body>"+tt.html+"</body></html>", nil)
			defer srv.Close()

			s := NewTikTokPageState(srv.Client(), tiktokConfig(), zap.NewNop())
			p, err := s.Attempt(context.Background(), pageTarget(srv))
			require.NoError(t, err)

			state := p.(payload.TikTokPageState)
			assert.Equal(t, tt.want, state.Video.MediaURL())
			assert.Equal(t, "tt_chain_token=abc", state.Cookies)
		})
	}
}

func TestTikTokPageStatePrivate(t *testing.T) {
	srv := tiktokPageServer(t, `<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">{"__DEFAULT_SCOPE__":{"webapp.video-detail":{"statusCode":10216,"statusMsg":"private"}}}</script>`, nil)
	defer srv.Close()

	s := NewTikTokPageState(srv.Client(), tiktokConfig(), zap.NewNop())
	_, err := s.Attempt(context.Background(), pageTarget(srv))
	assert.Equal(t, apperrors.KindNotPublic, apperrors.KindOf(err))
}

func TestTikTokPageFetchedOncePerChainRun(t *testing.T) {
	var hits int32
	html := `<html><head><meta property="og:title" content="TikTok"></head><body><script>{"playAddr":"https://v16.tiktokcdn.com/scan.mp4?x=1&y=2"}</script></body></html>`
	srv := tiktokPageServer(t, html, &hits)
	defer srv.Close()

	chain := NewChain(types.PlatformTikTok, []Strategy{
		NewTikTokPageState(srv.Client(), tiktokConfig(), zap.NewNop()),
		NewTikTokHTMLScan(srv.Client(), tiktokConfig(), zap.NewNop()),
	}, zap.NewNop())

	res, err := chain.Run(context.Background(), pageTarget(srv))
	require.NoError(t, err)
	assert.Equal(t, NameTikTokHTMLScan, res.Strategy)

	scan := res.Payload.(payload.TikTokHTMLScan)
	assert.Equal(t, "https://v16.tiktokcdn.com/scan.mp4?x=1&y=2", scan.VideoURL)
	assert.Equal(t, "TikTok", scan.Title)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestTikTokOpenGraph(t *testing.T) {
	withVideo := tiktokPageServer(t, `<html><head><meta property="og:video" content="https://v16.tiktokcdn.com/og.mp4"><meta property="og:title" content="t"></head></html>`, nil)
	defer withVideo.Close()
	withoutVideo := tiktokPageServer(t, `<html><head><meta property="og:title" content="t"></head></html>`, nil)
	defer withoutVideo.Close()

	s := NewTikTokOpenGraph(withVideo.Client(), tiktokConfig(), zap.NewNop())

	p, err := s.Attempt(context.Background(), pageTarget(withVideo))
	require.NoError(t, err)
	assert.Equal(t, "https://v16.tiktokcdn.com/og.mp4", p.(payload.TikTokOpenGraph).VideoURL)

	_, err = s.Attempt(context.Background(), pageTarget(withoutVideo))
	assert.Equal(t, apperrors.KindExtractionExhausted, apperrors.KindOf(err))
}

func TestUnescapeURL(t *testing.T) {
	assert.Equal(t, "https://a.b/c?d=1&e=2", unescapeURL(`https://a.b\/c?d=1&e=2`))
}

func TestTikTokHTMLScanIgnoresImages(t *testing.T) {
	images := `{"avatarThumb":"https:\/\/p16-sign-va.tiktokcdn.com\/avatar~tplv-tiktok-shrink:72:72.jpeg?x=1",` +
		`"cover":"https://p16-sign.tiktokcdn.com/obj/cover.webp"}`

	imagesOnly := tiktokPageServer(t, `<html><body><script>`+images+`</script></body></html>`, nil)
	defer imagesOnly.Close()

	s := NewTikTokHTMLScan(imagesOnly.Client(), tiktokConfig(), zap.NewNop())
	_, err := s.Attempt(context.Background(), pageTarget(imagesOnly))
	assert.Equal(t, apperrors.KindExtractionExhausted, apperrors.KindOf(err))

	withVideo := tiktokPageServer(t, `<html><body><script>`+images+`</script>`+
		`<meta property="og:video" content="https://v16.tiktokcdn.com/og.mp4"></body></html>`, nil)
	defer withVideo.Close()

	p, err := s.Attempt(context.Background(), pageTarget(withVideo))
	require.NoError(t, err)
	assert.Equal(t, "https://v16.tiktokcdn.com/og.mp4", p.(payload.TikTokHTMLScan).VideoURL)
}

func TestTikTokHTMLScanVideoPath(t *testing.T) {
	html := `<html><body><script>{"url":"https://v16-webapp.tiktokcdn.com/abc/video/tos/useast2a/obj?mime_type=video_mp4"}</script></body></html>`
	srv := tiktokPageServer(t, html, nil)
	defer srv.Close()

	s := NewTikTokHTMLScan(srv.Client(), tiktokConfig(), zap.NewNop())
	p, err := s.Attempt(context.Background(), pageTarget(srv))
	require.NoError(t, err)
	assert.Equal(t, "https://v16-webapp.tiktokcdn.com/abc/video/tos/useast2a/obj?mime_type=video_mp4", p.(payload.TikTokHTMLScan).VideoURL)
}

func TestIsVideoURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://v16.tiktokcdn.com/x.mp4?a=1", true},
		{"https://v16-webapp.tiktok.com/video/tos/maliva/obj", true},
		{"https://p16-sign-va.tiktokcdn.com/avatar~tplv-tiktok-shrink:72:72.jpeg?x=1", false},
		{"https://p16-sign.tiktokcdn.com/obj/cover.webp", false},
		{"https://p16.tiktokcdn.com/tos-maliva-p-0068/abc~tplv.image", false},
		{"https://v16.tiktokcdn.com/static/app.js", false},
		{"ftp://v16.tiktokcdn.com/x.mp4", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isVideoURL(tt.url), tt.url)
	}
}
