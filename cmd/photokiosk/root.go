package main

import (
	"fmt"
	"os"

	"github.com/photokiosk/photokiosk/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "photokiosk",
	Short: "A photo slideshow daemon for always-on displays",
	Long: `photokiosk pulls a photo library from a remote photo-management API,
resolves it into a display order and serves images to a display layer
while keeping a bounded local disk cache warm.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(nil, printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetEnvPrefix("PHOTOKIOSK")
	viper.AutomaticEnv()
}
