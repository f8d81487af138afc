package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		debugOn   bool
		warnOn    bool
		expectErr bool
	}{
		{name: "production", cfg: Config{}, debugOn: false, warnOn: true},
		{name: "development", cfg: Config{Development: true}, debugOn: true, warnOn: true},
		{name: "level override", cfg: Config{Level: "error"}, debugOn: false, warnOn: false},
		{name: "bad level", cfg: Config{Level: "loud"}, expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.cfg)
			if tt.expectErr {
				require.ErrorContains(t, err, "parse log level")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.debugOn, logger.Core().Enabled(zapcore.DebugLevel))
			require.Equal(t, tt.warnOn, logger.Core().Enabled(zapcore.WarnLevel))
		})
	}
}
