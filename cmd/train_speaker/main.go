// Command train_speaker trains a speaker identification
// model.
//
// Usage:
//
//	train_speaker --config <path>
//
// The training directory must contain one sub-directory of
// WAV files per speaker.
// The best model and the speaker label map are written to
// training.save_path.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/unixpickle/anyspeaker/config"
	"github.com/unixpickle/anyspeaker/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "train_speaker",
		Short:         "Train a speaker identification model",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logging.NewWriter(cfg.Logging, cmd.ErrOrStderr())
			_, err = run(context.Background(), cfg, log, cmd.ErrOrStderr())
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}
