package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/rconfig"
	"github.com/jacobfgrant/reconciler/internal/reconciler"
)

var (
	startUnzipTo   string
	startDelay     int
	startTransport string
)

var startCmd = &cobra.Command{
	Use:   "start <url>",
	Short: "Run a single ad-hoc download outside the reconciliation loop",
	Long: `Downloads a single URL into the configured working directory,
applying the same duplicate-suppression, delay, and (when --unzip-to is
set) archive post-processing the reconciliation loop applies to each
manifest entry, then exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = rconfig.DefaultConfigPath()
		}

		workingDir := "./downloads"
		transport := startTransport
		var s3Cfg fetcher.S3Config
		if cfg, err := rconfig.Load(cfgPath); err == nil {
			workingDir = cfg.Engine.WorkingDirectory
			if transport == "" {
				transport = cfg.Engine.Transport
			}
			s3Cfg = fetcher.S3Config{
				EndpointURL: cfg.S3.EndpointURL,
				KeyID:       cfg.S3.KeyID,
				SecretKey:   cfg.S3.SecretKey,
				Region:      cfg.S3.Region,
			}
		}

		entry := manifest.Entry{URL: args[0], UnzipTo: startUnzipTo}
		if startDelay > 0 {
			entry.DelayInSeconds = &startDelay
		}

		r := reconciler.New(reconciler.Options{
			WorkingDirectory:         workingDir,
			Verbose:                  verbose,
			DisableImmediateDownload: true,
			Transport:                transport,
			S3:                       s3Cfg,
		})
		defer r.Close()

		if err := r.Download(cmd.Context(), workingDir, entry); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}

		fmt.Printf("downloaded to %s/%s\n", workingDir, entry.ResolvedFileName())
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startUnzipTo, "unzip-to", "", "extract the archive into this directory after download")
	startCmd.Flags().IntVar(&startDelay, "delay", 0, "delay in seconds before starting the download")
	startCmd.Flags().StringVar(&startTransport, "transport", "", `transport to fetch the url with: "http" (default) or "s3"`)
	rootCmd.AddCommand(startCmd)
}
