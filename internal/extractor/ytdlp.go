package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/circuitbreaker"
	"github.com/KeremKalyoncu/reelgrab/internal/cleanup"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/pool"
	"github.com/KeremKalyoncu/reelgrab/internal/process"
	"github.com/KeremKalyoncu/reelgrab/internal/retry"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

const versionTimeout = 10 * time.Second

// installRetryBackoff is how long a failed install is reported before trying again
const installRetryBackoff = time.Minute

// Video selection prefers an mp4/m4a pair so the merge needs no re-encode
const videoFormat = "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b"

// audioFallbackExts are what yt-dlp leaves when its mp3 postprocessor could not run
var audioFallbackExts = []string{"m4a", "webm", "opus", "ogg", "aac"}

var progressRegex = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// blockedStatusRegex finds 403 and 429 responses in lowercased tool output
var blockedStatusRegex = regexp.MustCompile(`(?:http error|status code|status)\s*:?\s*(403|429)\b|\b(403|429)\s*:?\s*(?:forbidden|too many requests)`)

// Options configures the yt-dlp gateway
type Options struct {
	BinaryPath      string
	InfoTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxConcurrent   int
	// Installer provisions the binary when BinaryPath does not run; nil disables auto-install
	Installer Installer
	// FFmpeg converts leftover audio to mp3; nil skips conversion
	FFmpeg  *FFmpeg
	Metrics *metrics.Metrics
}

// DownloadRequest describes one file download
type DownloadRequest struct {
	URL       string
	Platform  types.Platform
	DestDir   string
	Stem      string
	AudioOnly bool
	// OnProgress receives non-decreasing percentages parsed from the tool output
	OnProgress func(percent float64)
}

// YtDlp runs yt-dlp for metadata and file downloads behind a breaker, retry and a concurrency cap
type YtDlp struct {
	runner  process.Runner
	opts    Options
	logger  *zap.Logger
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	limiter *pool.Limiter

	mu              sync.Mutex
	binaryPath      string
	version         string
	installErr      error
	installFailedAt time.Time
	now             func() time.Time
}

// NewYtDlp creates a new yt-dlp gateway
func NewYtDlp(runner process.Runner, opts Options, logger *zap.Logger) *YtDlp {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "yt-dlp"
	}
	if opts.InfoTimeout <= 0 {
		opts.InfoTimeout = 60 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 300 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("yt-dlp", circuitbreaker.Config{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6)
		},
		// A private or malformed post says nothing about the tool's health
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			switch apperrors.KindOf(err) {
			case apperrors.KindNotPublic, apperrors.KindInvalidInput, apperrors.KindNotVideo:
				return true
			}
			return false
		},
		OnStateChange: func(name string, from circuitbreaker.State, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	retryConfig := retry.Config{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.3,
		Retryable:    isRetryableError,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("Retrying yt-dlp operation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	return &YtDlp{
		runner:     runner,
		opts:       opts,
		logger:     logger,
		breaker:    cb,
		retry:      retryConfig,
		limiter:    pool.NewLimiter(opts.MaxConcurrent),
		binaryPath: opts.BinaryPath,
		now:        time.Now,
	}
}

// isRetryableError reports transient tool failures worth a second run
func isRetryableError(err error) bool {
	if err == nil || apperrors.KindOf(err) != apperrors.KindToolFailed {
		return false
	}
	if errors.Is(err, apperrors.ErrFileNotCreated) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timed out",
		"connection reset",
		"connection refused",
		"temporary failure",
		"500",
		"502",
		"504",
		"network",
		"dns",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// EnsureAvailable verifies the binary runs, installing it once if allowed.
// A positive result is cached for the life of the gateway; a failed install
// is reported as is for installRetryBackoff before another attempt.
func (y *YtDlp) EnsureAvailable(ctx context.Context) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.version != "" {
		return nil
	}

	version, err := y.probe(ctx, y.binaryPath)
	if err == nil {
		y.version = version
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if y.opts.Installer == nil {
		return apperrors.ErrToolUnavailable.WithCause(err)
	}
	if y.installErr != nil && y.now().Sub(y.installFailedAt) < installRetryBackoff {
		return y.installErr
	}

	y.logger.Warn("yt-dlp not runnable, installing", zap.String("path", y.binaryPath), zap.Error(err))
	path, err := y.opts.Installer.Install(ctx)
	if err != nil {
		return y.installFailed(ctx, apperrors.ErrToolUnavailable.WithMessage("yt-dlp could not be installed").WithCause(err))
	}

	version, err = y.probe(ctx, path)
	if err != nil {
		return y.installFailed(ctx, apperrors.ErrToolUnavailable.WithMessage("installed yt-dlp does not run").WithCause(err))
	}
	y.installErr = nil
	y.binaryPath = path
	y.version = version
	y.logger.Info("yt-dlp ready", zap.String("path", path), zap.String("version", version))
	return nil
}

// installFailed remembers err unless the caller gave up first. Callers hold y.mu.
func (y *YtDlp) installFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	y.installErr = err
	y.installFailedAt = y.now()
	return err
}

func (y *YtDlp) probe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	res, err := y.runner.Run(ctx, process.Command{Name: path, Args: []string{"--version"}})
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(res.Stdout))
	if version == "" {
		return "", fmt.Errorf("%s --version printed nothing", path)
	}
	return version, nil
}

// Version returns the detected yt-dlp version, empty until EnsureAvailable succeeds
func (y *YtDlp) Version() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.version
}

// Path returns the binary currently in use
func (y *YtDlp) Path() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.binaryPath
}

// Stats reports breaker and concurrency state for health output
func (y *YtDlp) Stats() map[string]interface{} {
	return map[string]interface{}{
		"version": y.Version(),
		"breaker": y.breaker.State().String(),
		"slots":   y.limiter.Stats(),
	}
}

// FetchInfo runs yt-dlp in metadata-only mode and returns the decoded info document
func (y *YtDlp) FetchInfo(ctx context.Context, postURL string, platform types.Platform) (*types.ToolInfo, error) {
	if err := y.EnsureAvailable(ctx); err != nil {
		return nil, err
	}

	var info *types.ToolInfo
	err := y.guard(ctx, func(ctx context.Context) error {
		return retry.Retry(ctx, y.retry, func(ctx context.Context) error {
			var err error
			info, err = y.fetchInfoOnce(ctx, postURL, platform)
			return err
		})
	})
	y.record(err)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (y *YtDlp) fetchInfoOnce(parent context.Context, postURL string, platform types.Platform) (*types.ToolInfo, error) {
	ctx, cancel := context.WithTimeout(parent, y.opts.InfoTimeout)
	defer cancel()

	args := []string{"--no-playlist", "--no-warnings", "--skip-download", "--dump-single-json"}
	args = append(args, platformArgs(platform)...)
	args = append(args, postURL)

	res, err := y.runner.Run(ctx, process.Command{Name: y.Path(), Args: args})
	if err != nil {
		return nil, classifyFailure(parent, ctx, err, res.Stderr)
	}

	line := lastJSONLine(res.Stdout)
	if line == nil {
		return nil, apperrors.ErrToolFailed.WithMessage("yt-dlp printed no metadata")
	}
	var info types.ToolInfo
	if err := json.Unmarshal(line, &info); err != nil {
		return nil, apperrors.ErrToolFailed.WithMessage("yt-dlp metadata is not valid JSON").WithCause(err)
	}
	if info.Title == "" {
		return nil, apperrors.ErrToolFailed.WithMessage("yt-dlp metadata has no title")
	}
	return &info, nil
}

// Download fetches the media into req.DestDir. A run that exits cleanly without
// producing the file is reported as a failed result with "file not created".
func (y *YtDlp) Download(ctx context.Context, req DownloadRequest) (*types.ProcessResult, error) {
	if err := y.EnsureAvailable(ctx); err != nil {
		return &types.ProcessResult{Error: apperrors.GetErrorMessage(err)}, err
	}
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return &types.ProcessResult{Error: err.Error()}, apperrors.ErrInternal.WithCause(err)
	}

	var result *types.ProcessResult
	err := y.guard(ctx, func(ctx context.Context) error {
		var err error
		result, err = y.downloadOnce(ctx, req)
		return err
	})
	y.record(err)

	if err != nil {
		// a run killed during postprocessing can leave a truncated file under the final name
		if rerr := cleanup.RemoveStem(req.DestDir, req.Stem); rerr != nil {
			y.logger.Warn("Failed to remove failed download", zap.String("stem", req.Stem), zap.Error(rerr))
		}
		if result == nil {
			result = &types.ProcessResult{Error: apperrors.GetErrorMessage(err)}
		}
		return result, err
	}
	return result, nil
}

func (y *YtDlp) downloadOnce(parent context.Context, req DownloadRequest) (*types.ProcessResult, error) {
	if err := cleanup.RemovePartials(req.DestDir, req.Stem); err != nil {
		y.logger.Warn("Failed to pre-clean partial download", zap.String("stem", req.Stem), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(parent, y.opts.DownloadTimeout)
	defer cancel()

	ext := "mp4"
	if req.AudioOnly {
		ext = "mp3"
	}

	args := y.downloadArgs(req)
	y.logger.Info("Starting yt-dlp download",
		zap.String("url", req.URL),
		zap.String("stem", req.Stem),
		zap.Bool("audio_only", req.AudioOnly),
	)

	res, err := y.runner.Run(ctx, process.Command{
		Name:   y.Path(),
		Args:   args,
		Stdout: &progressWriter{onProgress: req.OnProgress},
	})
	if err != nil {
		cerr := classifyFailure(parent, ctx, err, res.Stderr)
		return &types.ProcessResult{Error: apperrors.GetErrorMessage(cerr)}, cerr
	}

	path, err := y.locateOutput(parent, req, ext)
	if err != nil {
		return &types.ProcessResult{Error: apperrors.ErrFileNotCreated.Message}, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return &types.ProcessResult{Error: apperrors.ErrFileNotCreated.Message}, apperrors.ErrFileNotCreated.WithCause(err)
	}

	if req.OnProgress != nil {
		req.OnProgress(100)
	}

	return &types.ProcessResult{
		Success:  true,
		FilePath: path,
		Size:     stat.Size(),
		Info:     y.readSidecar(req.DestDir, req.Stem),
	}, nil
}

func (y *YtDlp) downloadArgs(req DownloadRequest) []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--no-mtime",
		"--write-info-json",
		"-o", filepath.Join(req.DestDir, req.Stem+".%(ext)s"),
	}
	if req.AudioOnly {
		args = append(args, "-f", "ba/b", "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	} else {
		args = append(args, "-f", videoFormat, "--merge-output-format", "mp4")
	}
	if y.opts.FFmpeg != nil && y.opts.FFmpeg.Path() != "" {
		args = append(args, "--ffmpeg-location", y.opts.FFmpeg.Path())
	}
	args = append(args, platformArgs(req.Platform)...)
	return append(args, req.URL)
}

// locateOutput finds the finished file for req, converting leftover audio to mp3 when needed
func (y *YtDlp) locateOutput(ctx context.Context, req DownloadRequest, ext string) (string, error) {
	expected := filepath.Join(req.DestDir, req.Stem+"."+ext)
	if fileExists(expected) {
		return expected, nil
	}

	if req.AudioOnly {
		for _, alt := range audioFallbackExts {
			src := filepath.Join(req.DestDir, req.Stem+"."+alt)
			if !fileExists(src) {
				continue
			}
			if y.opts.FFmpeg == nil {
				return src, nil
			}
			err := y.opts.FFmpeg.ToMP3(ctx, src, expected)
			os.Remove(src)
			if err != nil {
				return "", err
			}
			return expected, nil
		}
		return "", apperrors.ErrFileNotCreated
	}

	// The single-file fallback format may not be mp4
	matches, _ := filepath.Glob(filepath.Join(req.DestDir, globEscape(req.Stem)+".*"))
	for _, m := range matches {
		name := filepath.Base(m)
		if cleanup.IsPartialArtifact(name) || strings.HasSuffix(name, cleanup.SidecarSuffix) {
			continue
		}
		return m, nil
	}
	return "", apperrors.ErrFileNotCreated
}

// readSidecar decodes and removes the info document written next to the media
func (y *YtDlp) readSidecar(dir, stem string) *types.ToolInfo {
	path := filepath.Join(dir, stem+cleanup.SidecarSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	defer os.Remove(path)

	var info types.ToolInfo
	if err := json.Unmarshal(data, &info); err != nil {
		y.logger.Debug("Ignoring unreadable info sidecar", zap.String("path", path), zap.Error(err))
		return nil
	}
	return &info
}

// guard runs fn inside a concurrency slot and the breaker
func (y *YtDlp) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := y.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer y.limiter.Release()

	err := y.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apperrors.ErrToolUnavailable.WithMessage("yt-dlp is failing repeatedly, try again shortly").WithCause(err)
	}
	return err
}

func (y *YtDlp) record(err error) {
	if y.opts.Metrics != nil {
		y.opts.Metrics.RecordToolInvocation(err)
	}
}

func platformArgs(platform types.Platform) []string {
	if platform != types.PlatformYouTube {
		return nil
	}
	return []string{
		"--user-agent", normalizer.BrowserUserAgent,
		"--extractor-args", "youtube:player_client=android_vr,web",
	}
}

// classifyFailure maps a failed run to the error taxonomy. A cancelled parent
// is passed through untouched; only the tool's own deadline is a timeout.
func classifyFailure(parent, child context.Context, err error, stderr []byte) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(child.Err(), context.DeadlineExceeded) {
		return apperrors.ErrToolTimeout.WithCause(err)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return apperrors.ErrToolUnavailable.WithCause(err)
	}

	msg := strings.ToLower(string(stderr))
	detail := lastErrorLine(string(stderr))
	cause := fmt.Errorf("%w: %s", err, detail)

	var status string
	if m := blockedStatusRegex.FindStringSubmatch(msg); m != nil {
		status = m[1] + m[2]
	}

	switch {
	case strings.Contains(msg, "not a bot"), status == "403":
		return apperrors.ErrUpstreamBlocked.WithCause(cause)
	case status == "429", strings.Contains(msg, "too many requests"):
		return apperrors.ErrUpstreamBlocked.WithMessage("The platform is rate limiting downloads").WithCause(cause)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "is private"):
		return apperrors.ErrNotPublic.WithCause(cause)
	case strings.Contains(msg, "age-restricted"),
		strings.Contains(msg, "confirm your age"):
		return apperrors.ErrNotPublic.WithMessage("This video is age restricted").WithCause(cause)
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "has been removed"):
		return apperrors.ErrNotPublic.WithMessage("This video is unavailable").WithCause(cause)
	case strings.Contains(msg, "unsupported url"):
		return apperrors.ErrUnsupportedPlatform.WithCause(cause)
	}
	return apperrors.ErrToolFailed.WithMessage("yt-dlp failed: %s", detail).WithCause(err)
}

// lastErrorLine returns the last "ERROR:" line, or the tail of the output
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return lastLines(stderr, 3)
}

// lastLines returns the last n non-empty lines of s joined by " | "
func lastLines(s string, n int) string {
	var out []string
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			out = append([]string{line}, out...)
		}
	}
	return strings.Join(out, " | ")
}

func lastJSONLine(stdout []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if bytes.HasPrefix(line, []byte("{")) {
			return line
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func globEscape(s string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`).Replace(s)
}

// progressWriter parses "[download] NN.N%" lines as the tool writes them
type progressWriter struct {
	onProgress func(float64)
	buf        []byte
	last       float64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if w.onProgress == nil {
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.parse(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) parse(line string) {
	m := progressRegex.FindStringSubmatch(line)
	if len(m) < 2 {
		return
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < w.last {
		return
	}
	w.last = pct
	w.onProgress(pct)
}
