package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tasks-api/storage"
)

var migrateCommands = []string{"up", "down", "status", "version", "redo", "reset"}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version|redo|reset]",
		Short:     "Manage the tasks database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			return runMigrate(cmd.Context(), opts, command)
		},
	}
}

func runMigrate(ctx context.Context, opts *rootOptions, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadRuntime(opts)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Database.URL, 1, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()
	return store.RunMigrations(ctx, command)
}
