package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// mediaRoutes stream media and are never compressed
var mediaRoutes = []string{"/download", "/audio"}

// CompressionMiddleware compresses JSON and other text responses. The skip
// decision runs before the handler, so it looks at the route and the
// client's Accept header rather than the response.
func CompressionMiddleware() fiber.Handler {
	return compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			for _, prefix := range mediaRoutes {
				if strings.HasPrefix(c.Path(), prefix) {
					return true
				}
			}
			accept := c.Get(fiber.HeaderAccept)
			return accept != "" && isCompressedContentType(accept)
		},
	})
}

// isCompressedContentType checks if content type is already compressed
func isCompressedContentType(contentType string) bool {
	compressedTypes := []string{
		"video/",
		"audio/",
		"image/",
		"application/zip",
		"application/gzip",
		"application/octet-stream",
	}

	for _, ct := range compressedTypes {
		if strings.HasPrefix(contentType, ct) {
			return true
		}
	}

	return false
}
