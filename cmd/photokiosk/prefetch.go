package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/photokiosk/photokiosk/internal/diskcache"
	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/photokiosk/photokiosk/internal/photo"
	"github.com/photokiosk/photokiosk/internal/source"
	"github.com/photokiosk/photokiosk/internal/transform"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Warms the disk cache once and exits",
	Long: `prefetch resolves the configured photo library, downloads up to
--preload-count thumbnails into the disk cache and exits. Useful for
pre-warming a kiosk image before first boot.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := slog.Default()
		ctx := cmd.Context()

		// Flags are bound per-invocation: run and prefetch share key
		// names, so a package-init bind would leave viper pointing at
		// the other command's flag set.
		errutil.LogMsg(log, viper.BindPFlags(cmd.Flags()), "Failed to bind flags")

		httpClient, err := buildHTTPClient(log)
		if err != nil {
			errutil.ReportError(log, err, "Failed to build HTTP client")
			os.Exit(1)
		}

		cache := diskcache.New(diskcache.Config{
			Dir:          viper.GetString("cache-dir"),
			MaxBytes:     viper.GetInt64("max-cache-size"),
			PreloadCount: viper.GetInt("preload-count"),
			PreloadDelay: viper.GetDuration("preload-delay"),
		}, log)
		if err := cache.Initialize(); err != nil {
			errutil.ReportError(log, err, "Failed to initialize cache")
			os.Exit(1)
		}

		src := source.NewManager(httpClient, log)
		items := src.FetchPhotos(ctx, remoteConfigFromFlags())
		if len(items) == 0 {
			errutil.ReportError(log, fmt.Errorf("no photos available"), "Nothing to prefetch")
			os.Exit(1)
		}

		total := 0
		for _, it := range items {
			if it.URL != "" {
				total++
			}
		}
		if max := viper.GetInt("preload-count"); total > max {
			total = max
		}

		bar := progressbar.NewOptions(
			total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("prefetching"),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
					errutil.LogMsg(log, err, "Failed to print newline to stderr")
				}
			}),
		)

		cache.Preload(ctx, items, func(fctx context.Context, item photo.Item) (string, error) {
			defer func() {
				errutil.LogMsg(log, bar.Add(1), "Failed to update progress bar")
			}()
			data := src.Download(fctx, item.URL)
			if data == nil {
				return "", fmt.Errorf("download failed: %s", item.Path)
			}
			return transform.DataURL(transform.ContentTypeByExt(item.Path), data), nil
		})

		files, bytes := cache.Stats()
		log.Info("Prefetch finished", "files", files, "bytes", bytes)
	},
}

func init() {
	rootCmd.AddCommand(prefetchCmd)
	addRemoteFlags(prefetchCmd)
	addCacheFlags(prefetchCmd)
}
