package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "engine.decide")
	assert.NotNil(t, ctx)
	span.End()

	p.RecordDecision(context.Background(), "APPROVE")
	p.RecordError(context.Background(), "MODEL_ERROR")

	ctx, done := p.TrackDecision(context.Background())
	assert.NotNil(t, ctx)
	done("DECLINE", nil)
	done("", errors.New("late error path"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	_, span := p.StartSpan(context.Background(), "engine.decide")
	span.End()
	p.RecordDecision(context.Background(), "APPROVE")
	p.RecordError(context.Background(), "MODEL_ERROR")
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.False(t, c.Enabled)
	assert.Equal(t, "orca", c.ServiceName)
	assert.Equal(t, 1.0, c.SampleRate)
}
