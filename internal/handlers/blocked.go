package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/KeremKalyoncu/reelgrab/internal/config"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Alternative is a suggestion shown when a platform refuses automated downloads
type Alternative struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Recommended bool   `json:"recommended"`
}

// BlockedResponse is returned with 403 when a platform blocks downloads for good
type BlockedResponse struct {
	Error        string        `json:"error"`
	Kind         string        `json:"kind"`
	Code         string        `json:"code"`
	Message      string        `json:"message"`
	Explanation  string        `json:"explanation"`
	Alternatives []Alternative `json:"alternatives"`
	OriginalURL  string        `json:"originalUrl"`
	Status       string        `json:"status"`
	IsPermanent  bool          `json:"isPermanent"`
}

var platformNames = map[types.Platform]string{
	types.PlatformInstagram: "Instagram",
	types.PlatformTikTok:    "TikTok",
	types.PlatformYouTube:   "YouTube",
}

var alternatives = map[types.Platform][]Alternative{
	types.PlatformYouTube: {
		{Name: "YouTube Premium", Description: "Official offline downloads with a YouTube Premium subscription", Recommended: true},
		{Name: "YouTube Mobile App", Description: "Built-in offline feature in the official YouTube mobile app", Recommended: true},
		{Name: "Screen Recording", Description: "Record playback with OBS Studio, QuickTime or a similar tool", Recommended: false},
	},
	types.PlatformInstagram: {
		{Name: "Instagram App", Description: "Save the post to a collection in the official app", Recommended: true},
		{Name: "Screen Recording", Description: "Record playback with OBS Studio, QuickTime or a similar tool", Recommended: false},
	},
	types.PlatformTikTok: {
		{Name: "TikTok App", Description: "Use Save video in the share menu of the official app, if the creator allows it", Recommended: true},
		{Name: "Screen Recording", Description: "Record playback with OBS Studio, QuickTime or a similar tool", Recommended: false},
	},
}

// handleBlocked answers an UpstreamBlocked failure. Platforms configured as
// permanently blocking get a 403 with alternatives and no retry hint; the
// others get the transient 503 with a Retry-After.
func handleBlocked(c *fiber.Ctx, cfg *config.Config, platform types.Platform, originalURL string, err error) error {
	if !cfg.Platform(platform).PermanentBlock {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(cfg.Delivery.BlockedRetryAfter.Seconds())))
		return err
	}

	name := platformNames[platform]
	c.Set(fiber.HeaderRetryAfter, "0")
	return c.Status(apperrors.ErrPermanentlyBlocked.StatusCode).JSON(BlockedResponse{
		Error:        name + " downloads unavailable",
		Kind:         string(apperrors.KindUpstreamBlocked),
		Code:         apperrors.ErrPermanentlyBlocked.Code,
		Message:      name + " blocks automated downloads. This is not a temporary issue.",
		Explanation:  name + " actively refuses requests from download services. Retrying will not help.",
		Alternatives: alternatives[platform],
		OriginalURL:  originalURL,
		Status:       "permanently_blocked",
		IsPermanent:  true,
	})
}
