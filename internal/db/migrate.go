package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// The pre script creates the mediatrends schema and the pgcrypto/vector
// extensions the models depend on. The post script adds what gorm tags cannot
// express: expression and partial indexes, and the triggers that keep the
// notification log append-only and embeddings write-once.
var (
	//go:embed sql/pre_automigrate.sql
	preAutoMigrateSQL string

	//go:embed sql/post_automigrate.sql
	postAutoMigrateSQL string
)

// autoMigrate replays on every process start, so every step must be idempotent.
func (p *Pool) autoMigrate(ctx context.Context) error {
	steps := []struct {
		label string
		run   func(context.Context) error
	}{
		{"pre-auto-migrate SQL", func(ctx context.Context) error { return p.execScript(ctx, preAutoMigrateSQL) }},
		{"gorm auto-migrate models", func(ctx context.Context) error {
			return p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{"post-auto-migrate SQL", func(ctx context.Context) error { return p.execScript(ctx, postAutoMigrateSQL) }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.label, err)
		}
	}
	return nil
}

func (p *Pool) execScript(ctx context.Context, script string) error {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil
	}
	return p.gdb.WithContext(ctx).Exec(script).Error
}
