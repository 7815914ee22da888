package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/replica/internal/telemetry"
)

func TestGetOpensASessionAndReloadReopensIt(t *testing.T) {
	p := newFakePersistence()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(p, fakeBroadcaster{}, zerolog.Nop(), metrics, nil, 1, 0)

	c1, err := reg.Get(context.Background(), "doc")
	require.NoError(t, err)
	assert.True(t, p.active["doc/1"])

	c2, err := reg.Reload(context.Background(), "doc")
	require.NoError(t, err)
	require.NotSame(t, c1, c2)
	assert.True(t, p.active["doc/1"], "reload must leave the session active again, not stuck closed")
}

func TestSecondRegistryWithSameSidIsRejectedAsDuplicate(t *testing.T) {
	p := newFakePersistence()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	reg1 := NewRegistry(p, fakeBroadcaster{}, zerolog.Nop(), metrics, nil, 1, 0)
	reg2 := NewRegistry(p, fakeBroadcaster{}, zerolog.Nop(), metrics, nil, 1, 0)

	_, err := reg1.Get(context.Background(), "doc")
	require.NoError(t, err)

	_, err = reg2.Get(context.Background(), "doc")
	assert.Error(t, err)
}

func TestCheckStalledAnchorsDoesNotPanicWithNoLiveControllers(t *testing.T) {
	p := newFakePersistence()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(p, fakeBroadcaster{}, zerolog.Nop(), metrics, nil, 1, 0)

	reg.CheckStalledAnchors(time.Millisecond)
}
