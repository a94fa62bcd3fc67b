package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProfiler_Disabled(t *testing.T) {
	p, err := NewProfiler(ProfilerConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Stop(context.Background()))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestNewProfiler_RequiresServerAndName(t *testing.T) {
	_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "leadflow"}, zap.NewNop())
	assert.ErrorContains(t, err, "server address")

	_, err = NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://pyroscope:4040"}, zap.NewNop())
	assert.ErrorContains(t, err, "application name")
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileAllocSpace, pyroscope.ProfileInuseSpace}, types)

	types, err = ParseProfileTypes([]string{" CPU", "goroutines"})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileGoroutines}, types)

	_, err = ParseProfileTypes([]string{"threads"})
	assert.ErrorContains(t, err, `unknown profile type "threads"`)
}

func TestWithProfilingLabels_SetsChannelLabels(t *testing.T) {
	var channel, operation string
	WithProfilingLabels(context.Background(), DispatchProfilingLabels("amocrm", "run_unit"), func(ctx context.Context) {
		channel, _ = pprof.Label(ctx, ProfilingLabelChannel)
		operation, _ = pprof.Label(ctx, ProfilingLabelOperation)
	})

	assert.Equal(t, "amocrm", channel)
	assert.Equal(t, "run_unit", operation)
}

func TestWithProfilingLabels_DropsEmptyAndTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	var got string
	var hasOperation bool
	WithProfilingLabels(context.Background(), DispatchProfilingLabels(long, ""), func(ctx context.Context) {
		got, _ = pprof.Label(ctx, ProfilingLabelChannel)
		_, hasOperation = pprof.Label(ctx, ProfilingLabelOperation)
	})

	assert.Len(t, got, maxLabelValueLength)
	assert.False(t, hasOperation)

	called := false
	WithProfilingLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}
