package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/photokiosk/photokiosk/internal/controller"
	"github.com/photokiosk/photokiosk/internal/diskcache"
	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/photokiosk/photokiosk/internal/handler"
	"github.com/photokiosk/photokiosk/internal/httpclient"
	"github.com/photokiosk/photokiosk/internal/index"
	"github.com/photokiosk/photokiosk/internal/memguard"
	"github.com/photokiosk/photokiosk/internal/sequence"
	"github.com/photokiosk/photokiosk/internal/source"
	"github.com/photokiosk/photokiosk/internal/synoclient"
	"github.com/photokiosk/photokiosk/internal/timers"
	"github.com/photokiosk/photokiosk/internal/transform"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the slideshow daemon",
	Run: func(cmd *cobra.Command, args []string) {
		log := slog.Default()

		errutil.LogMsg(log, viper.BindPFlags(cmd.Flags()), "Failed to bind flags")

		remote := remoteConfigFromFlags()

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
			errutil.ReportError(log, err, "Failed to initialize cache", "dir", viper.GetString("cache-dir"))
			os.Exit(1)
		}

		seq := sequence.NewEngine(sequence.Config{
			Order:                sequence.Order(viper.GetString("order")),
			Reverse:              viper.GetBool("reverse"),
			ShowAllBeforeRestart: viper.GetBool("show-all"),
			TrackerPath:          viper.GetString("tracker-file"),
		}, log)

		tf := transform.New(transform.Options{
			Resize:    viper.GetBool("resize"),
			MaxWidth:  viper.GetInt("max-width"),
			MaxHeight: viper.GetInt("max-height"),
			Quality:   viper.GetInt("quality"),
		}, log)

		var snapshot controller.SnapshotStore
		var store *index.Store
		if path := viper.GetString("index-db"); path != "" {
			store, err = index.Open(path)
			if err != nil {
				log.Warn("Failed to open photo index, continuing without it", "path", path, "error", err)
			} else {
				snapshot = store
			}
		}

		src := source.NewManager(httpClient, log)
		sched := timers.NewScheduler(log)

		notify := func(event string, payload any) {
			log.Info("Event", "name", event)
		}

		ctrl := controller.New(controller.Config{
			Identifier:      viper.GetString("identifier"),
			SlideInterval:   viper.GetDuration("slide-interval"),
			RefreshInterval: viper.GetDuration("refresh-interval"),
			RetryDelay:      viper.GetDuration("retry-delay"),
			LocalDir:        viper.GetString("local-dir"),
		}, remote, src, seq, cache, tf, sched, snapshot, notify, log)

		guard := memguard.New(memguard.Config{
			Interval:  viper.GetDuration("mem-interval"),
			Threshold: viper.GetFloat64("mem-threshold"),
		}, log)
		guard.OnPressure(cache.EvictOldFiles)
		guard.Start()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ctrl.Init(ctx)

		var server *http.Server
		if port := viper.GetInt("status-port"); port > 0 {
			mux := http.NewServeMux()
			handler.NewKioskHandler(ctrl, log).Register(mux)
			server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
			go func() {
				log.Info("Status endpoint listening", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errutil.ReportError(log, err, "Status server failed")
				}
			}()
		}

		<-ctx.Done()
		log.Info("Shutting down")

		ctrl.Stop()
		guard.Stop()
		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			errutil.LogMsg(log, server.Shutdown(shutdownCtx), "Status server shutdown failed")
			shutdownCancel()
		}
		if store != nil {
			errutil.LogMsg(log, store.Close(), "Failed to close photo index")
		}
	},
}

func remoteConfigFromFlags() synoclient.Config {
	return synoclient.Config{
		BaseURL:         viper.GetString("base-url"),
		Account:         viper.GetString("account"),
		Password:        viper.GetString("password"),
		SharePassphrase: viper.GetString("share-passphrase"),
		Album:           viper.GetString("album"),
		Tags:            viper.GetStringSlice("tag"),
		PageSize:        viper.GetInt("page-size"),
		ThumbnailSize:   viper.GetString("thumbnail-size"),
		DownloadTimeout: viper.GetDuration("download-timeout"),
	}
}

func buildHTTPClient(log *slog.Logger) (*http.Client, error) {
	opts := httpclient.Options{
		Insecure: viper.GetBool("insecure"),
		Timeout:  viper.GetDuration("http-timeout"),
	}
	if path := viper.GetString("ca-cert"); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		opts.CACertPEM = pem
	}
	return httpclient.New(opts, log), nil
}

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("base-url", "", "Remote API root, e.g. https://nas:5001/webapi")
	cmd.Flags().String("account", "", "Remote account name")
	cmd.Flags().String("password", "", "Remote account password")
	cmd.Flags().String("share-passphrase", "", "Shared-album passphrase (skips authentication)")
	cmd.Flags().String("album", "", "Album name to display (\"*\" for all albums)")
	cmd.Flags().StringSlice("tag", []string{}, "Tag names to display (takes precedence over album)")
	cmd.Flags().Int("page-size", 100, "Items per API page")
	cmd.Flags().String("thumbnail-size", "xl", "Remote thumbnail size")
	cmd.Flags().String("ca-cert", "", "Custom CA certificate for the remote API")
	cmd.Flags().Bool("insecure", false, "Disable TLS verification")
	cmd.Flags().Duration("http-timeout", 30*time.Second, "API request timeout")
	cmd.Flags().Duration("download-timeout", 30*time.Second, "Thumbnail download timeout")
}

func addCacheFlags(cmd *cobra.Command) {
	cmd.Flags().String("cache-dir", "./cache", "Directory for cached payloads")
	cmd.Flags().Int64("max-cache-size", 500*1024*1024, "Max cache size in bytes")
	cmd.Flags().Int("preload-count", 50, "Max items to preload per cycle")
	cmd.Flags().Duration("preload-delay", time.Second, "Delay between preload downloads")
}

func init() {
	rootCmd.AddCommand(runCmd)

	addRemoteFlags(runCmd)
	addCacheFlags(runCmd)

	runCmd.Flags().String("identifier", "photokiosk", "Instance identifier carried in events")
	runCmd.Flags().String("order", "created", "Display order (random, name, created, modified)")
	runCmd.Flags().Bool("reverse", false, "Reverse the sort order")
	runCmd.Flags().Bool("show-all", false, "Show every photo once before repeating, across restarts")
	runCmd.Flags().String("tracker-file", "./shown.txt", "Resume tracker file")
	runCmd.Flags().String("local-dir", "", "Base directory for local-only items")
	runCmd.Flags().Duration("slide-interval", 10*time.Second, "Time each image stays on display")
	runCmd.Flags().Duration("refresh-interval", time.Hour, "Library refresh interval (0 disables)")
	runCmd.Flags().Duration("retry-delay", 10*time.Minute, "Retry delay after an empty load")
	runCmd.Flags().Bool("resize", false, "Resize local images before display")
	runCmd.Flags().Int("max-width", 1920, "Max image width when resizing")
	runCmd.Flags().Int("max-height", 1080, "Max image height when resizing")
	runCmd.Flags().Int("quality", 85, "JPEG quality when resizing")
	runCmd.Flags().Duration("mem-interval", 30*time.Second, "Heap sampling interval")
	runCmd.Flags().Float64("mem-threshold", 0.8, "Heap usage ratio that triggers cache eviction")
	runCmd.Flags().Int("status-port", 0, "Local status endpoint port (0 disables)")
	runCmd.Flags().String("index-db", "", "Photo index database path for offline starts (empty disables)")
}
