package turn

import (
	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/observability"
)

// AnimationSink consumes the talking flag. Implementations must
// tolerate the underlying animation layer being inactive.
type AnimationSink interface {
	SetTalking(talking bool)
}

// talkingFlag is the guarded boolean behind the agent's "is speaking"
// signal. Every transition notifies the sink exactly once; writing the
// current value again is a no-op. Set must only be called from the
// session goroutine so two watchers can never race the flag into an
// inconsistent order.
type talkingFlag struct {
	value   bool
	source  string
	sink    AnimationSink
	logger  zerolog.Logger
	metrics *observability.SessionMetrics
}

// set updates the flag and reports whether a transition happened. The
// source label is kept for diagnostics.
func (f *talkingFlag) set(value bool, source string) bool {
	if f.value == value {
		return false
	}
	f.value = value
	f.source = source
	f.logger.Debug().Bool("talking", value).Str("source", source).Msg("talking state changed")

	if f.metrics != nil {
		f.metrics.RecordTalking(value)
	}
	if f.sink != nil {
		f.sink.SetTalking(value)
	}
	return true
}
