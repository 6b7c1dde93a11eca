package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/internal/config"
	"github.com/xynehq/jaf-sub004/internal/memory"
	"github.com/xynehq/jaf-sub004/internal/toolauth"
)

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL store schema",
		Long: `Applies the CREATE TABLE IF NOT EXISTS schema each SQL-backed store
(internal/memory, internal/approval, internal/toolauth) declares. No-op when
store.backend is "memory".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the deployment configuration file")
	return cmd
}

func runMigrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Store.Backend == "memory" {
		fmt.Println("store.backend is memory; nothing to migrate")
		return nil
	}

	driver, err := sqlDriver(cfg.Store.Backend)
	if err != nil {
		return err
	}
	db, err := sql.Open(driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store db: %w", err)
	}
	defer db.Close()

	for _, schema := range []struct {
		name string
		ddl  string
	}{
		{"memory", memory.Schema},
		{"approval", approval.Schema},
		{"toolauth", toolauth.Schema},
	} {
		if _, err := db.Exec(schema.ddl); err != nil {
			return fmt.Errorf("apply %s schema: %w", schema.name, err)
		}
		fmt.Printf("applied %s schema\n", schema.name)
	}

	return nil
}
