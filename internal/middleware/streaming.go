package middleware

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/delivery"
)

// StreamSource sends src as an attachment named filename. The engine copies
// into a pipe the server drains, so the response carries Content-Length when
// the size is known and an interrupted copy aborts the connection instead of
// ending a short 200. src is closed once the transfer ends either way.
// logger should already carry the request id.
func StreamSource(c *fiber.Ctx, engine *delivery.Engine, src *delivery.Source, filename string, logger *zap.Logger) error {
	c.Set(fiber.HeaderContentType, delivery.ContentType(filename))
	c.Set(fiber.HeaderContentDisposition, delivery.ContentDisposition(filename))
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	body := &pipeBody{PipeReader: pr, cancel: cancel}

	go func() {
		defer cancel()
		n, err := engine.Copy(ctx, pw, src, nil)
		pw.CloseWithError(err)
		if err != nil {
			logger.Warn("Stream aborted",
				zap.String("filename", filename),
				zap.Int64("bytes", n),
				zap.Error(err),
			)
			return
		}
		logger.Debug("Stream completed",
			zap.String("filename", filename),
			zap.Int64("bytes", n),
		)
	}()

	size := int(src.Size)
	if src.Size < 0 {
		size = -1
	}
	c.Context().SetBodyStream(body, size)
	return nil
}

// pipeBody stops the copy as soon as the server gives up on the response
type pipeBody struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (b *pipeBody) Close() error {
	b.cancel()
	return b.PipeReader.Close()
}
