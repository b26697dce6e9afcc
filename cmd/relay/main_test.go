package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "relay dev") {
		t.Errorf("expected output to contain 'relay dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Relay") {
		t.Errorf("expected help output to contain 'Relay', got: %s", out)
	}
	for _, sub := range []string{"version", "serve", "db"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestExecuteError(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "failing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("intentional error")
		},
	}
	if code := execute(cmd); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--config", "/does/not/exist.yaml"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
