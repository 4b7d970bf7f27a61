package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("msg", clickpay.Field{Key: "k", Value: "v"}) }, "debug"},
		{"info", func(l *Logger) { l.Info("msg", clickpay.Field{Key: "k", Value: "v"}) }, "info"},
		{"warn", func(l *Logger) { l.Warn("msg", clickpay.Field{Key: "k", Value: "v"}) }, "warn"},
		{"error", func(l *Logger) { l.Error("msg", clickpay.Field{Key: "k", Value: "v"}) }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			zlog := zerolog.New(&out)
			tt.log(NewLogger(&zlog))

			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(out.Bytes(), &line))
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, "msg", line["message"])
			assert.Equal(t, "v", line["k"])
		})
	}
}

func TestZerologLogger_ErrorField(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out)
	logger := NewLogger(&zlog)

	logger.Error("store failed", clickpay.Field{Key: "error", Value: errors.New("connection refused")})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "connection refused", line["error"])
}

func TestZerologLogger_RespectsLevel(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out).Level(zerolog.WarnLevel)
	logger := NewLogger(&zlog)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, out.Len())

	logger.Warn("shown")
	assert.NotZero(t, out.Len())
}
