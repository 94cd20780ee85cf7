package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/comalice/scxmlrt/engine"
	"github.com/comalice/scxmlrt/model"
)

func newRunCmd() *cobra.Command {
	var eventsFlag string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <demo>",
		Short: "run one of the built-in demo documents to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, ok := builtinDemos()[args[0]]
			if !ok {
				return fmt.Errorf("unknown demo %q (see \"scxmlrt list\")", args[0])
			}
			doc, err := build()
			if err != nil {
				return fmt.Errorf("building document: %w", err)
			}

			cfg := engine.DefaultConfig()
			if globalFlags.ConfigPath != "" {
				data, err := os.ReadFile(globalFlags.ConfigPath)
				if err != nil {
					return fmt.Errorf("reading config: %w", err)
				}
				cfg, err = engine.LoadConfig(data)
				if err != nil {
					return fmt.Errorf("parsing config: %w", err)
				}
			}

			logger := newLogger()
			registry := engine.NewRegistry(logger, engine.WithConfig(cfg))
			defer registry.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			session, err := registry.Create(ctx, doc)
			if err != nil {
				return fmt.Errorf("creating session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s started: %s\n", session.ID, configurationString(session))

			for _, name := range splitEvents(eventsFlag) {
				if err := session.Send(ctx, model.Event{Name: name, Kind: model.KindExternal}); err != nil {
					return fmt.Errorf("sending %q: %w", name, err)
				}
				time.Sleep(50 * time.Millisecond)
				fmt.Fprintf(cmd.OutOrStdout(), "after %q: %s\n", name, configurationString(session))
			}

			select {
			case <-session.Halted():
				fmt.Fprintln(cmd.OutOrStdout(), "session halted")
			case <-ctx.Done():
				fmt.Fprintln(cmd.OutOrStdout(), "timed out waiting for halt")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventsFlag, "events", "", "comma-separated external event names to send in order")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "maximum time to wait for the session to halt")
	return cmd
}

func splitEvents(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func configurationString(session *engine.Session) string {
	var ids []string
	for _, s := range session.Configuration() {
		if s.IsAtomic() {
			ids = append(ids, s.ID)
		}
	}
	return strings.Join(ids, ", ")
}
