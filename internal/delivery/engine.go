// Package delivery streams media bytes to a client, either relayed from the
// platform CDN or read from a temp file the external tool produced.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
	"github.com/KeremKalyoncu/reelgrab/internal/pool"
	"github.com/KeremKalyoncu/reelgrab/internal/retry"
)

// DefaultChunkSize is the read size for local files
const DefaultChunkSize = 256 * 1024

// Source is an open media body ready to be copied to a client
type Source struct {
	Body io.ReadCloser
	// Size is -1 when the length is unknown
	Size int64
	// UpstreamType is the Content-Type the upstream reported, if any
	UpstreamType string

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// Close releases the body and runs any cleanup bound to it
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Body.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

// Engine opens and copies media sources
type Engine struct {
	client    *http.Client
	chunkSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	retries   int
	now       func() time.Time
}

// Options configures an Engine
type Options struct {
	Client    *http.Client
	ChunkSize int
	Retries   int
	Metrics   *metrics.Metrics
}

// NewEngine creates a delivery engine
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Client == nil {
		opts.Client = pool.NewStreamClient(60 * time.Second)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Engine{
		client:    opts.Client,
		chunkSize: opts.ChunkSize,
		metrics:   opts.Metrics,
		logger:    logger.Named("delivery"),
		retries:   opts.Retries,
		now:       time.Now,
	}
}

// ChunkSize returns the configured chunk size
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// OpenProxy starts an upstream fetch of mediaURL. The body is tied to ctx, so
// cancelling ctx aborts the transfer. A non-2xx answer is an error, never a body.
func (e *Engine) OpenProxy(ctx context.Context, mediaURL string, headers map[string]string) (*Source, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 1 + e.retries

	var resp *http.Response
	err := retry.Retry(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return retry.Permanent(apperrors.ErrInvalidURL.WithCause(err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		r, err := e.client.Do(req)
		if err != nil {
			return apperrors.ErrUpstreamMedia.WithCause(err)
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
			r.Body.Close()
			upstreamErr := apperrors.ErrUpstreamMedia.
				WithDetails(map[string]int{"upstream_status": r.StatusCode}).
				WithCause(fmt.Errorf("media host returned %d", r.StatusCode))
			if r.StatusCode >= 500 {
				return upstreamErr
			}
			return retry.Permanent(upstreamErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Upstream media opened",
		zap.String("host", resp.Request.URL.Host),
		zap.Int64("content_length", resp.ContentLength),
		zap.String("content_type", resp.Header.Get("Content-Type")),
	)

	return &Source{
		Body:         resp.Body,
		Size:         resp.ContentLength,
		UpstreamType: resp.Header.Get("Content-Type"),
	}, nil
}

// OpenFile opens a local temp file. Closing the source deletes the file; a
// failed deletion is logged and left to the temp sweeper.
func (e *Engine) OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.ErrFileNotCreated.WithCause(err)
		}
		return nil, apperrors.ErrStreamingInterrupted.WithCause(err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, apperrors.ErrStreamingInterrupted.WithCause(err)
	}

	return &Source{
		Body: f,
		Size: stat.Size(),
		onClose: func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn("Failed to remove delivered file", zap.String("path", path), zap.Error(err))
			}
		},
	}, nil
}

// Copy writes src to dst one chunk at a time, so a file of N bytes arrives in
// ceil(N/chunk) writes. If progress is non-nil it receives one snapshot per
// chunk plus a terminal one, and is closed when Copy returns. src is closed.
func (e *Engine) Copy(ctx context.Context, dst io.Writer, src *Source, progress chan<- Snapshot) (int64, error) {
	defer src.Close()
	if progress != nil {
		defer close(progress)
	}

	e.metrics.StreamStarted()
	tracker := NewTracker(src.Size, e.now)

	emit := func(s Snapshot) {
		if progress == nil {
			return
		}
		select {
		case progress <- s:
		case <-ctx.Done():
		}
	}

	err := e.copyChunks(ctx, dst, src.Body, tracker, emit)
	written := tracker.Transferred()
	if err == nil && src.Size >= 0 && written != src.Size {
		err = apperrors.ErrStreamingInterrupted.WithMessage("media ended after %d of %d bytes", written, src.Size)
	}
	e.metrics.StreamFinished(written, err)

	if err != nil {
		emit(tracker.Fail(err))
		e.logger.Info("Delivery interrupted", zap.Int64("bytes", written), zap.Error(err))
		return written, err
	}
	emit(tracker.Finish())
	return written, nil
}

func (e *Engine) copyChunks(ctx context.Context, dst io.Writer, body io.Reader, tracker *Tracker, emit func(Snapshot)) error {
	chunks := pool.ChunkPool(e.chunkSize)
	buf := chunks.Get()
	defer chunks.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return apperrors.ErrStreamingInterrupted.WithMessage("delivery cancelled").WithCause(err)
		}

		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return apperrors.ErrStreamingInterrupted.WithMessage("client stopped receiving").WithCause(err)
			}
			emit(tracker.Add(n))
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil
		case ctx.Err() != nil:
			return apperrors.ErrStreamingInterrupted.WithMessage("delivery cancelled").WithCause(ctx.Err())
		default:
			return apperrors.ErrStreamingInterrupted.WithCause(readErr)
		}
	}
}

// ContentType returns the media type for a delivered filename. The local
// extension is authoritative over whatever the upstream reported.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "video/webm"
	}
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ContentDisposition builds an attachment header for an already sanitized filename
func ContentDisposition(filename string) string {
	return `attachment; filename="` + strings.ReplaceAll(filename, `"`, "") + `"`
}
