package cmd

import (
	"fmt"

	"wildlife-challenge-system/config"
	"wildlife-challenge-system/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "wildlife-challenge-system",
	Short:         "Location-aware daily and weekly wildlife sighting challenges",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		log, err = logger.New(cfg.LogMode)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}
