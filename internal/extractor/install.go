package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/pool"
)

// installTimeout bounds one release lookup plus the binary download
const installTimeout = 10 * time.Minute

// Installer provisions the yt-dlp binary and returns its path
type Installer interface {
	Install(ctx context.Context) (string, error)
}

// githubRelease is the part of the GitHub release API response we read
type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// ReleaseInstaller downloads the standalone yt-dlp build for this OS/arch from GitHub releases
type ReleaseInstaller struct {
	dir    string
	apiURL string
	client *http.Client
	logger *zap.Logger
	goos    string
	goarch  string
	timeout time.Duration
}

// NewReleaseInstaller creates an installer writing into dir. client must not
// carry an overall timeout since the binary is tens of megabytes; nil picks a
// stream client.
func NewReleaseInstaller(dir, apiURL string, client *http.Client, logger *zap.Logger) *ReleaseInstaller {
	if client == nil {
		client = pool.NewStreamClient(30 * time.Second)
	}
	return &ReleaseInstaller{
		dir:     dir,
		apiURL:  apiURL,
		client:  client,
		logger:  logger,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
		timeout: installTimeout,
	}
}

// AssetName returns the release asset name for goos/goarch
func AssetName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "yt-dlp.exe"
	case "darwin":
		return "yt-dlp_macos"
	case "linux":
		if goarch == "arm64" {
			return "yt-dlp_linux_aarch64"
		}
		return "yt-dlp_linux"
	}
	return "yt-dlp"
}

// Path returns where the binary is installed
func (r *ReleaseInstaller) Path() string {
	return filepath.Join(r.dir, AssetName(r.goos, r.goarch))
}

// Install reuses an existing binary or downloads the latest release
func (r *ReleaseInstaller) Install(ctx context.Context) (string, error) {
	target := r.Path()
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		return target, nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create install dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	release, err := r.latestRelease(ctx)
	if err != nil {
		return "", err
	}

	asset := AssetName(r.goos, r.goarch)
	var downloadURL string
	for _, a := range release.Assets {
		if a.Name == asset {
			downloadURL = a.BrowserDownloadURL
			break
		}
	}
	if downloadURL == "" {
		return "", fmt.Errorf("no asset %q in release %s", asset, release.TagName)
	}

	r.logger.Info("Installing yt-dlp",
		zap.String("version", release.TagName),
		zap.String("asset", asset),
		zap.String("path", target),
	)

	if err := r.download(ctx, downloadURL, target); err != nil {
		return "", err
	}
	return target, nil
}

func (r *ReleaseInstaller) latestRelease(ctx context.Context) (*githubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release info: %w", err)
	}
	return &release, nil
}

func (r *ReleaseInstaller) download(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download yt-dlp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tmpPath := target + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to make executable: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
