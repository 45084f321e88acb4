package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/retry"
)

// maxBodyBytes bounds how much of an upstream page or API response is read
const maxBodyBytes = 8 << 20

// request is one upstream call made by a strategy
type request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    string
	Timeout time.Duration
	Retries int
}

// response is a fully read upstream reply
type response struct {
	Status  int
	Body    []byte
	Cookies string
}

// fetcher performs bounded, retried upstream requests and maps HTTP status to the error taxonomy
type fetcher struct {
	client *http.Client
	logger *zap.Logger
	after  func(time.Duration) <-chan time.Time
}

func newFetcher(client *http.Client, logger *zap.Logger) *fetcher {
	return &fetcher{client: client, logger: logger}
}

func (f *fetcher) do(ctx context.Context, req request) (*response, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 1 + req.Retries
	cfg.After = f.after
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		f.logger.Debug("Retrying upstream request",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	var resp *response
	err := retry.Retry(ctx, cfg, func(ctx context.Context) error {
		var err error
		resp, err = f.once(ctx, req)
		return err
	})
	return resp, err
}

func (f *fetcher) once(ctx context.Context, req request) (*response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, retry.Permanent(apperrors.ErrInvalidURL.WithCause(err))
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL, err)
	}
	defer httpResp.Body.Close()

	if err := statusError(httpResp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64<<10))
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}

	return &response{
		Status:  httpResp.StatusCode,
		Body:    data,
		Cookies: cookieHeader(httpResp.Cookies()),
	}, nil
}

// statusError maps upstream statuses; only 429 and 5xx are worth another attempt
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusNotFound, status == http.StatusGone:
		return retry.Permanent(apperrors.ErrNotPublic.WithCause(fmt.Errorf("upstream returned %d", status)))
	case status == http.StatusForbidden:
		return retry.Permanent(apperrors.ErrUpstreamBlocked.WithCause(fmt.Errorf("upstream returned %d", status)))
	case status == http.StatusTooManyRequests:
		return apperrors.ErrUpstreamBlocked.WithCause(fmt.Errorf("upstream returned %d", status))
	case status >= 500:
		return fmt.Errorf("upstream returned %d", status)
	}
	return retry.Permanent(fmt.Errorf("upstream returned %d", status))
}

func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// pageMemo lets strategies in one chain run share a fetched page
type pageMemo struct {
	mu    sync.Mutex
	pages map[string]*memoEntry
}

type memoEntry struct {
	once sync.Once
	resp *response
	err  error
}

type pageMemoKey struct{}

func withPageMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(pageMemoKey{}).(*pageMemo); ok {
		return ctx
	}
	return context.WithValue(ctx, pageMemoKey{}, &pageMemo{pages: make(map[string]*memoEntry)})
}

// memoized returns the cached result for key within the current chain run,
// calling load at most once. Outside a chain run it always calls load.
func memoized(ctx context.Context, key string, load func() (*response, error)) (*response, error) {
	m, ok := ctx.Value(pageMemoKey{}).(*pageMemo)
	if !ok {
		return load()
	}

	m.mu.Lock()
	e, ok := m.pages[key]
	if !ok {
		e = &memoEntry{}
		m.pages[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() { e.resp, e.err = load() })
	return e.resp, e.err
}
