package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/extractor"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// Downloader materializes a post into a local file through the external tool
type Downloader interface {
	Download(ctx context.Context, req extractor.DownloadRequest) (*types.ProcessResult, error)
}

// OpenTool downloads req through d and opens the resulting file. The file is
// owned by the returned source and removed when it is closed.
func (e *Engine) OpenTool(ctx context.Context, d Downloader, req extractor.DownloadRequest) (*Source, *types.ProcessResult, error) {
	result, err := d.Download(ctx, req)
	if err != nil {
		return nil, result, err
	}

	src, err := e.OpenFile(result.FilePath)
	if err != nil {
		return nil, result, err
	}

	e.logger.Debug("Tool output ready",
		zap.String("platform", string(req.Platform)),
		zap.String("path", result.FilePath),
		zap.Int64("size", src.Size),
	)
	return src, result, nil
}
