package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalFlags holds the root command's persistent flags, following the same
// single package-level struct the teacher's cli.GlobalFlags uses rather than
// threading flag values through cobra.Command.Context.
var globalFlags struct {
	LogLevel  string
	ConfigPath string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scxmlrt",
		Short:         "scxmlrt runs a W3C SCXML state machine to completion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "engine config YAML path")

	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	return root
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(globalFlags.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list the built-in demo documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			for name := range builtinDemos() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
