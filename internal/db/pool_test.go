package db

import (
	"testing"

	"gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level string
		env   string
		want  logger.LogLevel
	}{
		{"debug", "local", logger.Info},
		{" INFO ", "production", logger.Warn},
		{"error", "local", logger.Error},
		{"disabled", "local", logger.Silent},
		{"verbose", "production", logger.Error},
		{"verbose", "local", logger.Warn},
	}
	for _, tc := range cases {
		if got := gormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("gormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}
