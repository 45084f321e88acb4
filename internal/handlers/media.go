package handlers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/delivery"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/extractor"
	"github.com/KeremKalyoncu/reelgrab/internal/middleware"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/resolver"
	"github.com/KeremKalyoncu/reelgrab/internal/strategy"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Resolver is the part of resolver.Resolver the handlers use
type Resolver interface {
	Classify(ctx context.Context, rawURL string) (classifier.Target, error)
	ResolveTarget(ctx context.Context, target classifier.Target) (*resolver.Resolution, error)
	Invalidate(ctx context.Context, target classifier.Target)
}

// ResolveResponse is the body of a successful /resolve
type ResolveResponse struct {
	Platform types.Platform    `json:"platform"`
	Record   types.MediaRecord `json:"record"`
}

// AudioRequest is the body of POST /audio
type AudioRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// MediaHandler serves resolution and media delivery
type MediaHandler struct {
	resolver Resolver
	engine   *delivery.Engine
	tool     delivery.Downloader
	cfg      *config.Config
	logger   *zap.Logger
}

// NewMediaHandler creates a media handler
func NewMediaHandler(r Resolver, engine *delivery.Engine, tool delivery.Downloader, cfg *config.Config, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		resolver: r,
		engine:   engine,
		tool:     tool,
		cfg:      cfg,
		logger:   logger.Named("media"),
	}
}

// Resolve handles GET /resolve?postUrl=
func (h *MediaHandler) Resolve(c *fiber.Ctx) error {
	postURL, err := middleware.RequireQuery(c, "postUrl")
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	target, err := h.resolver.Classify(ctx, postURL)
	if err != nil {
		return err
	}

	res, err := h.resolver.ResolveTarget(ctx, target)
	if err != nil {
		return h.fail(c, target.Platform, postURL, err)
	}

	if res.Cached {
		c.Set("X-Cache", "HIT")
	} else {
		c.Set("X-Cache", "MISS")
	}
	return c.JSON(ResolveResponse{Platform: target.Platform, Record: res.Record})
}

// Download handles GET /download?url=&filename=. url is either a post URL or
// a media URL on an allowed CDN host.
func (h *MediaHandler) Download(c *fiber.Ctx) error {
	rawURL, err := middleware.RequireQuery(c, "url")
	if err != nil {
		return err
	}
	requested := strings.TrimSpace(c.Query("filename"))
	ctx := c.UserContext()

	if platform, ok := h.cdnPlatform(rawURL); ok {
		return h.proxyCDN(c, platform, rawURL, requested)
	}

	target, err := h.resolver.Classify(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := h.requireEnabled(target.Platform); err != nil {
		return err
	}

	res, err := h.resolver.ResolveTarget(ctx, target)
	if err != nil {
		return h.fail(c, target.Platform, rawURL, err)
	}
	rec := res.Record

	filename := rec.Filename
	if requested != "" {
		filename = normalizer.EnsureExtension(requested, normalizer.ExtVideo)
	}

	var src *delivery.Source
	if rec.Delivery == types.DeliveryTool {
		src, _, err = h.engine.OpenTool(ctx, h.tool, h.toolRequest(target, false))
	} else {
		src, err = h.engine.OpenProxy(ctx, rec.MediaURL, rec.RequiredHeaders)
		if errors.Is(err, apperrors.ErrUpstreamMedia) {
			// signed media URLs expire; the next attempt should re-resolve
			h.resolver.Invalidate(c.UserContext(), target)
		}
	}
	if err != nil {
		return h.fail(c, target.Platform, rawURL, err)
	}

	log := h.requestLogger(c)
	log.Info("Delivering media",
		zap.String("platform", string(target.Platform)),
		zap.String("id", target.ID),
		zap.String("delivery", string(rec.Delivery)),
		zap.String("filename", filename),
		zap.Int64("size", src.Size),
	)
	return middleware.StreamSource(c, h.engine, src, filename, log)
}

// Audio handles POST /audio with a JSON AudioRequest. Only YouTube is supported.
func (h *MediaHandler) Audio(c *fiber.Ctx) error {
	var req AudioRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.ErrInvalidRequest.WithCause(err)
	}
	if strings.TrimSpace(req.URL) == "" {
		return apperrors.ErrMissingParameter.WithMessage("field %q is required", "url")
	}

	ctx := c.UserContext()
	target, err := h.resolver.Classify(ctx, req.URL)
	if err != nil {
		return err
	}
	if target.Platform != types.PlatformYouTube {
		return apperrors.ErrUnsupportedPlatform.WithMessage("audio extraction is only available for YouTube")
	}
	if err := h.requireEnabled(target.Platform); err != nil {
		return err
	}

	src, result, err := h.engine.OpenTool(ctx, h.tool, h.toolRequest(target, true))
	if err != nil {
		return h.fail(c, target.Platform, req.URL, err)
	}

	filename := normalizer.PlatformFilename(target.Platform, target.ID, normalizer.ExtAudio)
	switch {
	case strings.TrimSpace(req.Filename) != "":
		filename = normalizer.EnsureExtension(req.Filename, normalizer.ExtAudio)
	case result != nil && result.Info != nil && strings.TrimSpace(result.Info.Title) != "":
		filename = normalizer.EnsureExtension(result.Info.Title, normalizer.ExtAudio)
	}

	log := h.requestLogger(c)
	log.Info("Delivering audio",
		zap.String("id", target.ID),
		zap.String("filename", filename),
		zap.Int64("size", src.Size),
	)
	return middleware.StreamSource(c, h.engine, src, filename, log)
}

// requestLogger prefers the request-scoped logger from AccessLog
func (h *MediaHandler) requestLogger(c *fiber.Ctx) *zap.Logger {
	if l, ok := middleware.LoggerFrom(c); ok {
		return l.Named("media")
	}
	return h.logger.With(zap.String("request_id", middleware.RequestID(c)))
}

// proxyCDN relays a raw media URL. Only allowlisted CDN hosts are fetched.
func (h *MediaHandler) proxyCDN(c *fiber.Ctx, platform types.Platform, rawURL, requested string) error {
	u, _ := url.Parse(rawURL)
	if !classifier.HostAllowed(u.Hostname(), h.cfg.Delivery.ProxyAllowedHosts) {
		return apperrors.ErrInvalidURL.WithMessage("media host %q is not allowed", u.Hostname())
	}
	if err := h.requireEnabled(platform); err != nil {
		return err
	}

	src, err := h.engine.OpenProxy(c.UserContext(), rawURL, normalizer.DefaultHeaders(platform))
	if err != nil {
		return err
	}

	filename := normalizer.PlatformFilename(platform, "media", normalizer.ExtVideo)
	if requested != "" {
		filename = normalizer.EnsureExtension(requested, normalizer.ExtVideo)
	}
	return middleware.StreamSource(c, h.engine, src, filename, h.requestLogger(c))
}

func (h *MediaHandler) cdnPlatform(rawURL string) (types.Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return types.PlatformUnknown, false
	}
	return classifier.CDNPlatform(u.Hostname())
}

func (h *MediaHandler) requireEnabled(p types.Platform) error {
	if !h.cfg.Platform(p).EnableServerAPI {
		return apperrors.ErrPlatformDisabled.WithMessage("server-side downloads are disabled for %s", p)
	}
	return nil
}

func (h *MediaHandler) toolRequest(target classifier.Target, audioOnly bool) extractor.DownloadRequest {
	return extractor.DownloadRequest{
		URL:       strategy.ToolURL(target),
		Platform:  target.Platform,
		DestDir:   h.cfg.Extractor.TempDir,
		Stem:      uuid.NewString(),
		AudioOnly: audioOnly,
	}
}

func (h *MediaHandler) fail(c *fiber.Ctx, platform types.Platform, originalURL string, err error) error {
	if apperrors.KindOf(err) == apperrors.KindUpstreamBlocked {
		return handleBlocked(c, h.cfg, platform, originalURL, err)
	}
	return err
}
