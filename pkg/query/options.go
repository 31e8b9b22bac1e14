package query

import (
	"fmt"
	"strings"
	"time"
)

// Options controls a single query execution. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	// Limit caps the number of returned candidates.
	Limit int
	// ActivationLevels bounds spreading-activation propagation rounds.
	ActivationLevels int
	// Decay is the per-hop activation attenuation factor.
	Decay float64

	// Bypass switches skip individual pipeline stages.
	BypassCache      bool
	BypassInhibition bool
	BypassHebbian    bool
	BypassAttention  bool
	BypassBiTemporal bool
	BypassFusion     bool

	// ContextLevel tunes how strongly recent-context boosting applies
	// (0 disables it).
	ContextLevel float64
	// ValidAt queries the graph as valid at a point in time instead of
	// now.
	ValidAt *time.Time
	// IncludeHistory annotates results with invalidated relationships.
	IncludeHistory bool
	// UseLinearRanker forces the substring-scan ranker instead of
	// spreading activation.
	UseLinearRanker bool
}

// DefaultOptions returns the standard query options.
func DefaultOptions() Options {
	return Options{
		Limit:            10,
		ActivationLevels: 3,
		Decay:            0.5,
		ContextLevel:     0.0,
	}
}

// normalize clamps option values into their valid ranges.
func (o Options) normalize() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultOptions().Limit
	}
	if o.ActivationLevels <= 0 {
		o.ActivationLevels = DefaultOptions().ActivationLevels
	}
	if o.Decay <= 0 || o.Decay > 1 {
		o.Decay = DefaultOptions().Decay
	}
	if o.ContextLevel < 0 {
		o.ContextLevel = 0
	}
	return o
}

// fingerprint encodes every result-affecting option into a stable string
// for cache keying. Cache-control flags are deliberately excluded.
func (o Options) fingerprint() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "limit=%d;levels=%d;decay=%g;ctx=%g;linear=%t",
		o.Limit, o.ActivationLevels, o.Decay, o.ContextLevel, o.UseLinearRanker)
	fmt.Fprintf(&sb, ";inhib=%t;hebb=%t;attn=%t;bitemp=%t;fuse=%t",
		o.BypassInhibition, o.BypassHebbian, o.BypassAttention, o.BypassBiTemporal, o.BypassFusion)
	if o.ValidAt != nil {
		fmt.Fprintf(&sb, ";validat=%d", o.ValidAt.UnixNano())
	}
	fmt.Fprintf(&sb, ";history=%t", o.IncludeHistory)
	return sb.String()
}

// ValidationError reports a malformed query request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("query: invalid %s: %s", e.Field, e.Reason)
}
