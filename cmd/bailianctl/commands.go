// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/BailianRelay/pkg/logging"
	"github.com/AleutianAI/BailianRelay/services/relay/config"
)

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package variables.
func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "bailianctl",
		Short: "Check and exercise the Bailian chat relay configuration",
		Long: `bailianctl reads the same environment and .env file as the relay
server, verifies the provider credentials and sends prompts to the
configured application.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logging.LevelWarn
			if verbose {
				level = logging.LevelDebug
			}
			logger := logging.New(logging.Config{
				Level:   level,
				Service: "bailianctl",
				Format:  logging.FormatText,
				Output:  cmd.ErrOrStderr(),
			})
			slog.SetDefault(logger.Slog())
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify API_KEY and APP_ID and make one live provider call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	var askOpts askOptions
	askCmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt through the configured provider and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "), askOpts)
		},
	}
	askCmd.Flags().StringVar(&askOpts.SessionID, "session", "", "Provider session id to continue")
	askCmd.Flags().BoolVar(&askOpts.NoStream, "no-stream", false, "Wait for the whole answer instead of streaming it")

	rootCmd.AddCommand(checkCmd, askCmd)
	return rootCmd
}

