package storage

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending schema migration.
func (s *Storage) Migrate(ctx context.Context) error {
	return s.RunMigrations(ctx, "up")
}

// RunMigrations runs a goose command (up, down, status, version, redo,
// reset) against the embedded migrations.
func (s *Storage) RunMigrations(ctx context.Context, command string, args ...string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{entry: s.log.WithField("component", "migrations")})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, s.db, "migrations", args...); err != nil {
		return fmt.Errorf("migrations %s: %w", command, err)
	}
	return nil
}

// gooseLogger routes goose output through logrus.
type gooseLogger struct {
	entry *log.Entry
}

func (l gooseLogger) Fatalf(format string, v ...any) { l.entry.Errorf(format, v...) }

func (l gooseLogger) Printf(format string, v ...any) { l.entry.Infof(format, v...) }
