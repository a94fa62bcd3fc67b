package telemetry

import (
	"context"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys. Keep them low cardinality: never lead, unit or batch IDs.
const (
	ProfilingLabelChannel   = "channel_type"
	ProfilingLabelOperation = "operation"
	ProfilingLabelRoute     = "route"
	ProfilingLabelMethod    = "method"
)

// maxLabelValueLength caps label values
const maxLabelValueLength = 64

// DispatchProfilingLabels labels work done for one channel.
func DispatchProfilingLabels(channelType, operation string) map[string]string {
	return map[string]string{
		ProfilingLabelChannel:   channelType,
		ProfilingLabelOperation: operation,
	}
}

// HTTPProfilingLabels labels an API request by its route pattern, never the raw path.
func HTTPProfilingLabels(method, route string) map[string]string {
	return map[string]string{
		ProfilingLabelMethod: method,
		ProfilingLabelRoute:  route,
	}
}

// WithProfilingLabels runs fn with pprof labels attached to the goroutine,
// so CPU samples taken inside fn can be filtered by channel in Pyroscope.
// Empty values are dropped and long ones truncated. It costs nothing when
// the profiler is not running.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := make([]string, 0, 2*len(labels))
	for k, v := range labels {
		if k == "" || v == "" {
			continue
		}
		if len(v) > maxLabelValueLength {
			v = v[:maxLabelValueLength]
		}
		pairs = append(pairs, k, v)
	}
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}
