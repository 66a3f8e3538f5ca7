package relayerd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestEncodeEntryReplacesControlCharacters(t *testing.T) {
	enc := consoleEncoder{zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())}

	buf, err := enc.EncodeEntry(zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Unix(0, 0),
		Message: "order\x1b[31m relayed",
	}, []zapcore.Field{zap.String("recipient", "a\x00b")})
	require.NoError(t, err)
	defer buf.Free()

	out := buf.String()
	assert.NotContains(t, out, "\x1b")
	assert.NotContains(t, out, "\x00")
	assert.Contains(t, out, "order\x1A[31m relayed")
	assert.True(t, strings.HasSuffix(out, "\n"), "newlines are kept")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	_, err = newLogger("chatty")
	assert.Error(t, err)
}
