package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"drillflow/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		logger, err := NewLogger(config.LoggerConfig{Level: tc.level})
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", tc.level, err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Errorf("level %q: expected %s enabled", tc.level, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Errorf("level %q: expected %s disabled", tc.level, tc.want-1)
		}
	}
}
