package middleware

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CacheConfig holds cache middleware configuration
type CacheConfig struct {
	// MaxAge is the cache duration in seconds (for Cache-Control header)
	MaxAge int
	// Public allows caching by CDNs and proxies if true
	Public bool
	// MustRevalidate forces revalidation after cache expires
	MustRevalidate bool
}

// DefaultCacheConfig matches the resolution cache lifetime; media URLs expire soon after
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAge:         300,
		Public:         false,
		MustRevalidate: true,
	}
}

// CacheMiddleware adds an ETag to successful GET responses with a buffered
// body and answers 304 when the client already holds it
func CacheMiddleware(config ...CacheConfig) fiber.Handler {
	cfg := DefaultCacheConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	cacheControl := buildCacheControl(cfg)

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet {
			return c.Next()
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 || c.Response().IsBodyStream() {
			return nil
		}

		etag := generateETag(c.Response().Body())
		c.Set(fiber.HeaderETag, etag)
		c.Set(fiber.HeaderCacheControl, cacheControl)

		if match := c.Get(fiber.HeaderIfNoneMatch); match != "" && etagMatches(match, etag) {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}

// generateETag creates ETag from response body using MD5 hash
func generateETag(body []byte) string {
	hash := md5.Sum(body)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// buildCacheControl constructs Cache-Control header value
func buildCacheControl(config CacheConfig) string {
	directives := []string{"private"}
	if config.Public {
		directives[0] = "public"
	}
	if config.MaxAge > 0 {
		directives = append(directives, "max-age="+strconv.Itoa(config.MaxAge))
	}
	if config.MustRevalidate {
		directives = append(directives, "must-revalidate")
	}
	return strings.Join(directives, ", ")
}

// NoCacheMiddleware disables caching for specific routes
func NoCacheMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, private")
		c.Set(fiber.HeaderPragma, "no-cache")
		c.Set(fiber.HeaderExpires, "0")
		return c.Next()
	}
}
