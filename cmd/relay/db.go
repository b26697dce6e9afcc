package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/relay/internal/config"
	"github.com/zulandar/relay/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "State store management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Relay state store",
		Long:  "Connects to the configured database and creates the state store schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to Relay config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	switch cfg.Database.Driver {
	case "sqlite":
		fmt.Fprintf(out, "Opened sqlite store at %s\n", cfg.Database.Path)
	case "mysql":
		fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintln(out, "State store schema ready.")
	return nil
}
