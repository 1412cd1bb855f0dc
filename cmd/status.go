package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacobfgrant/reconciler/internal/rconfig"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the configured working directory and reconciliation interval",
	Long: `Reports the configuration a future "reconciler init" would run
with. It does not inspect any running instance's in-flight state — the
engine keeps no durable record of that across process restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = rconfig.DefaultConfigPath()
		}

		cfg, err := rconfig.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Printf("config file:        %s\n", cfgPath)
		fmt.Printf("working directory:  %s\n", cfg.Engine.WorkingDirectory)
		fmt.Printf("interval:           %s\n", time.Duration(cfg.Engine.IntervalMs)*time.Millisecond)
		fmt.Printf("abandoned timeout:  %s\n", time.Duration(cfg.Engine.AbandonedTimeoutMs)*time.Millisecond)
		fmt.Printf("default retry limit: %d\n", cfg.Engine.DefaultRetryLimit)
		fmt.Printf("manifest entries:   %d\n", len(cfg.Manifest.Entries))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
