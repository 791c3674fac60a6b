package util_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLogFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := util.WithLogger(context.Background(), l)
	util.LogFromContext(ctx).Info().Str("op", "connect").Msg("hello")
	assert.Contains(t, buf.String(), `"op":"connect"`)

	disabled := util.DisableLogger(context.Background(), true)
	assert.True(t, util.ShouldDisableLogger(disabled))
	assert.Equal(t, zerolog.Disabled, util.LogFromContext(disabled).GetLevel())

	assert.False(t, util.ShouldDisableLogger(context.Background()))
	assert.NotNil(t, util.LogFromContext(context.Background()))
}
