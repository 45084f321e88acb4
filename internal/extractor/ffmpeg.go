package extractor

import (
	"context"
	"fmt"
	"os"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/process"
)

// FFmpeg transcodes audio left behind by yt-dlp when its own postprocessing did not run
type FFmpeg struct {
	binaryPath string
	timeout    time.Duration
	runner     process.Runner
	logger     *zap.Logger
}

// NewFFmpeg creates a new FFmpeg wrapper
func NewFFmpeg(binaryPath string, timeout time.Duration, runner process.Runner, logger *zap.Logger) *FFmpeg {
	return &FFmpeg{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
		logger:     logger,
	}
}

// Path returns the ffmpeg binary path
func (f *FFmpeg) Path() string {
	return f.binaryPath
}

// ToMP3Args returns the ffmpeg arguments converting inputPath to a 192k MP3 at outputPath
func ToMP3Args(inputPath, outputPath string) []string {
	return ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{
			"vn":            "", // No video
			"acodec":        "libmp3lame",
			"audio_bitrate": "192k",
		}).
		OverWriteOutput().
		GetArgs()
}

// ToMP3 converts inputPath to outputPath; a failed conversion leaves no output behind
func (f *FFmpeg) ToMP3(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.Info("Converting audio to mp3",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
	)

	res, err := f.runner.Run(ctx, process.Command{
		Name: f.binaryPath,
		Args: ToMP3Args(inputPath, outputPath),
	})
	if err != nil {
		os.Remove(outputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return apperrors.ErrToolTimeout.WithMessage("ffmpeg did not finish within %s", f.timeout)
		}
		return apperrors.ErrToolFailed.WithMessage("audio conversion failed").
			WithCause(fmt.Errorf("%w: %s", err, lastLines(string(res.Stderr), 3)))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return apperrors.ErrFileNotCreated.WithCause(err)
	}
	return nil
}
