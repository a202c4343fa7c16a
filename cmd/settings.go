// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	settingsOutput string
	settingsDryRun bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or write the controller settings as YAML",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Load the settings and print them as YAML",
	RunE:  runSettingsGet,
}

var settingsApplyCmd = &cobra.Command{
	Use:   "apply <file|->",
	Short: "Validate a YAML settings document and send it",
	Long: `Read a YAML settings document, validate it and write it to the controller.

The document is applied on top of the settings the controller reports, so it
may contain only the fields being changed:

  tank_a_automation:
    min_auto_value: 30
    max_auto_value: 95

Invalid documents are rejected without sending anything (exit code 1).`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsApply,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsApplyCmd)
	settingsGetCmd.Flags().StringVarP(&settingsOutput, "output", "o", "", "Write to a file instead of stdout")
	settingsApplyCmd.Flags().BoolVar(&settingsDryRun, "dry-run", false, "Validate only")
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.LoadAll(cmd.Context()); err != nil {
			return err
		}
		out, err := yaml.Marshal(s.Snapshot().State.SystemSettings)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		if settingsOutput == "" {
			_, err = os.Stdout.Write(out)
			return err
		}
		return os.WriteFile(settingsOutput, out, 0o644)
	})
}

// readSettingsDocument reads path, or stdin for "-"
func readSettingsDocument(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// applySettingsDocument overlays a YAML document on base
func applySettingsDocument(base tankproto.SystemSettings, doc []byte) (tankproto.SystemSettings, error) {
	next := base
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(&next); err != nil && err != io.EOF {
		return base, fmt.Errorf("parse settings: %w", err)
	}
	return next, nil
}

func printValidation(problems []tankproto.ValidationError) {
	fmt.Printf("\033[1;33mVALIDATION ERROR:\033[0m %d problem(s)\n", len(problems))
	for i, p := range problems {
		fmt.Printf("  Issue %d: \033[1;31m%s\033[0m: %s\n", i+1, p.Field, p.Message)
	}
}

func runSettingsApply(cmd *cobra.Command, args []string) error {
	doc, err := readSettingsDocument(args[0])
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	if settingsDryRun {
		next, err := applySettingsDocument(tankproto.DefaultSettings(), doc)
		if err != nil {
			return err
		}
		if problems := tankproto.ValidateSettings(next); len(problems) > 0 {
			printValidation(problems)
			os.Exit(exitFailed)
		}
		fmt.Printf("Settings valid\n")
		return nil
	}

	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.LoadAll(cmd.Context()); err != nil {
			return err
		}
		next, err := applySettingsDocument(s.Snapshot().State.SystemSettings, doc)
		if err != nil {
			return err
		}
		if problems := tankproto.ValidateSettings(next); len(problems) > 0 {
			printValidation(problems)
			os.Exit(exitFailed)
		}
		if err := s.SendCommand(tankproto.UpdateSettings(next)); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", tankproto.CmdUpdateSettings)
		return nil
	})
}
