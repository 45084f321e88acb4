package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/app"
	"github.com/KeremKalyoncu/reelgrab/internal/cleanup"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/delivery"
	"github.com/KeremKalyoncu/reelgrab/internal/extractor"
	"github.com/KeremKalyoncu/reelgrab/internal/logger"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/strategy"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

func main() {
	zapLogger, err := logger.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cliApp := &cli.App{
		Name:  "grab",
		Usage: "resolve and download social media videos",
		Commands: []*cli.Command{
			{
				Name:      "resolve",
				Usage:     "print the media record of each post URL",
				ArgsUsage: "URL...",
				Action: func(c *cli.Context) error {
					return withContainer(zapLogger, func(container *app.Container) error {
						return resolve(ctx, container, c.Args().Slice())
					})
				},
			},
			{
				Name:      "download",
				Usage:     "download each post URL",
				ArgsUsage: "URL...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "target",
						Value: ".",
						Usage: "save downloaded media to `DIR`",
					},
					&cli.BoolFlag{
						Name:  "audio",
						Usage: "extract the audio track as mp3",
					},
				},
				Action: func(c *cli.Context) error {
					return withContainer(zapLogger, func(container *app.Container) error {
						for _, source := range c.Args().Slice() {
							if err := download(ctx, container, source, c.String("target"), c.Bool("audio")); err != nil {
								return err
							}
						}
						return nil
					})
				},
			},
			{
				Name:      "sweep",
				Usage:     "remove partial and abandoned files from a temp directory",
				ArgsUsage: "DIR",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "partial-min-age",
						Value: 10 * time.Minute,
						Usage: "delete partial artifacts older than `AGE`",
					},
					&cli.DurationFlag{
						Name:  "max-age",
						Value: time.Hour,
						Usage: "delete any file older than `AGE`",
					},
				},
				Action: func(c *cli.Context) error {
					dir := c.Args().First()
					if dir == "" {
						return cli.Exit("sweep needs a directory", 2)
					}
					sweeper := cleanup.NewSweeper(dir, c.Duration("partial-min-age"), c.Duration("max-age"), time.Hour, zapLogger)
					res := sweeper.Sweep()
					fmt.Printf("deleted %d files, freed %d bytes, %d errors\n", res.Deleted, res.FreedBytes, res.Errors)
					return nil
				},
			},
		},
		HideHelpCommand: true,
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		zapLogger.Fatal(err.Error())
	}
}

func withContainer(zapLogger *zap.Logger, fn func(*app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	container, err := app.NewContainer(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer container.Close(context.Background())
	return fn(container)
}

func resolve(ctx context.Context, container *app.Container, sources []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, source := range sources {
		res, err := container.Resolver.Resolve(ctx, source)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", source, err)
		}
		if err := enc.Encode(res.Record); err != nil {
			return err
		}
	}
	return nil
}

func download(ctx context.Context, container *app.Container, source, target string, audio bool) error {
	logger := container.Logger.Sugar()

	res, err := container.Resolver.Resolve(ctx, source)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}
	rec := res.Record
	logger.Infof("Resolved %s %s via %s", rec.Platform, rec.ID, rec.Strategy)

	filename := rec.Filename
	var src *delivery.Source
	if audio || rec.Delivery == types.DeliveryTool {
		if audio {
			filename = normalizer.EnsureExtension(filename, normalizer.ExtAudio)
		}
		logger.Info("Downloading through yt-dlp...")
		src, _, err = container.Engine.OpenTool(ctx, container.Ytdlp, extractor.DownloadRequest{
			URL:       strategy.ToolURL(res.Target),
			Platform:  res.Target.Platform,
			DestDir:   container.Config.Extractor.TempDir,
			Stem:      uuid.NewString(),
			AudioOnly: audio,
		})
	} else {
		src, err = container.Engine.OpenProxy(ctx, rec.MediaURL, rec.RequiredHeaders)
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		src.Close()
		return err
	}
	finalPath := filepath.Join(target, filename)
	partPath := finalPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		src.Close()
		return err
	}

	bar := progressbar.DefaultBytes(src.Size, "downloading")
	progress := make(chan delivery.Snapshot, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for snap := range progress {
			if snap.TotalBytes > 0 && int64(bar.GetMax()) != snap.TotalBytes {
				bar.ChangeMax64(snap.TotalBytes)
			}
			bar.Set64(snap.BytesTransferred)
		}
	}()

	n, copyErr := container.Engine.Copy(ctx, out, src, progress)
	<-drained
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(partPath)
		return fmt.Errorf("download failed after %d bytes: %w", n, copyErr)
	}
	bar.Finish()

	if err := os.Rename(partPath, finalPath); err != nil {
		return err
	}
	logger.Infof("Saved %s (%d bytes)", finalPath, n)
	return nil
}
