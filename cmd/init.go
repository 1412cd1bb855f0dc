package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/rconfig"
	"github.com/jacobfgrant/reconciler/internal/reconciler"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Start the reconciliation loop and block until shutdown",
	Long: `Loads the config file, builds a Reconciler, and starts the
reconciliation loop. Runs until interrupted (SIGINT/SIGTERM).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = rconfig.DefaultConfigPath()
		}

		cfg, err := rconfig.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		r := reconciler.New(reconciler.Options{
			WorkingDirectory:         cfg.Engine.WorkingDirectory,
			Interval:                 time.Duration(cfg.Engine.IntervalMs) * time.Millisecond,
			AbandonedTimeout:         time.Duration(cfg.Engine.AbandonedTimeoutMs) * time.Millisecond,
			DefaultDelaySeconds:      cfg.Engine.DefaultDelaySeconds,
			DefaultRetryLimit:        cfg.Engine.DefaultRetryLimit,
			DisableUnzip:             cfg.Engine.DisableUnzip,
			DisableImmediateDownload: cfg.Engine.DisableImmediateDownload,
			Verbose:                  verbose || cfg.Engine.Verbose,
			DownloadManifest:         manifest.Manifest(cfg.Manifest.Entries),
			ReportProgress:           cfg.Engine.ReportProgress,
			BandwidthLimitBytesPerSec: cfg.Engine.BandwidthLimitBytesPerSec,
			Transport:                cfg.Engine.Transport,
			S3: fetcher.S3Config{
				EndpointURL: cfg.S3.EndpointURL,
				KeyID:       cfg.S3.KeyID,
				SecretKey:   cfg.S3.SecretKey,
				Region:      cfg.S3.Region,
			},
			ManifestURL: cfg.Manifest.URL,
		})

		if err := r.Init(cmd.Context()); err != nil {
			return fmt.Errorf("starting reconciliation loop: %w", err)
		}

		fmt.Printf("reconciler running, working directory %s\n", cfg.Engine.WorkingDirectory)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down")
		return r.Close()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
