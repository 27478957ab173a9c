package dictation

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/dispatch"
	"github.com/embodiedxr/npc-gateway/internal/observability"
)

// State models the speech-capture lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Recognizer is the speech-capture collaborator contract. Transcript
// events arrive separately through the machine's Handle* methods.
type Recognizer interface {
	Activate() error
	Deactivate() error
	IsActive() bool
}

// InputField mirrors the editable text field bound to dictation. The
// silent setter must not re-enter the machine's own change handlers.
type InputField interface {
	Text() string
	HasFocus() bool
	SetTextSilently(text string)
}

// Config wires a Machine to its collaborators.
type Config struct {
	Recognizer    Recognizer
	Field         InputField
	Queue         *dispatch.Queue
	OnUtterance   func(text string) // finalized merged text, ready for a turn
	OnStateChange func(state State)
	// ErrorRevertDelay is how long the machine stays in Error before
	// automatically reverting to Idle.
	ErrorRevertDelay time.Duration
	Metrics          *observability.SessionMetrics
	Logger           zerolog.Logger
}

// Machine owns transcript accumulation and merges keyboard edits with
// speech transcripts. All methods must be invoked on the session
// goroutine; recognizer callbacks arriving elsewhere are routed through
// the dispatch queue by the caller.
type Machine struct {
	cfg Config

	state       State
	accumulated string
	partial     string

	// generation invalidates a scheduled error revert once any other
	// transition has happened.
	generation uint64
}

// NewMachine creates a dictation machine in the Idle state.
func NewMachine(cfg Config) *Machine {
	if cfg.ErrorRevertDelay <= 0 {
		cfg.ErrorRevertDelay = 2 * time.Second
	}
	return &Machine{cfg: cfg, state: StateIdle}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// Accumulated returns the finalized utterance buffer.
func (m *Machine) Accumulated() string {
	return m.accumulated
}

// Preview renders the accumulated text plus the current partial
// transcript, without mutating either.
func (m *Machine) Preview() string {
	if m.partial == "" {
		return m.accumulated
	}
	if m.accumulated == "" {
		return m.partial
	}
	return m.accumulated + " " + m.partial
}

// Toggle starts capture when inactive and stops it when active. A
// missing recognizer is a logged no-op; an activation failure drives
// the machine to Error.
func (m *Machine) Toggle() {
	if m.cfg.Recognizer == nil {
		m.cfg.Logger.Warn().Msg("dictation toggled but no recognizer is bound")
		return
	}

	if m.state == StateListening || m.cfg.Recognizer.IsActive() {
		if err := m.cfg.Recognizer.Deactivate(); err != nil {
			m.enterError("DEACTIVATE_FAILED", err.Error())
			return
		}
		m.setState(StateIdle)
		return
	}

	// Typed edits made while not listening would otherwise be lost.
	m.SyncExternalEdits()
	m.partial = ""
	m.setState(StateStarting)

	if err := m.cfg.Recognizer.Activate(); err != nil {
		m.enterError("ACTIVATE_FAILED", err.Error())
	}
}

// Clear resets the utterance buffer and empties the bound field.
func (m *Machine) Clear() {
	m.accumulated = ""
	m.partial = ""
	if m.cfg.Field != nil {
		m.cfg.Field.SetTextSilently("")
	}
}

// SyncExternalEdits pulls the bound field's current contents into the
// accumulated buffer so text typed between sessions is kept.
func (m *Machine) SyncExternalEdits() {
	if m.cfg.Field == nil {
		return
	}
	m.accumulated = strings.TrimSpace(m.cfg.Field.Text())
}

// HandleStartListening records that the engine began a capture session.
func (m *Machine) HandleStartListening() {
	m.partial = ""
	m.setState(StateListening)
}

// HandleStoppedListening records that capture ended; the engine may
// still deliver a final transcript afterwards.
func (m *Machine) HandleStoppedListening() {
	if m.state == StateListening {
		m.setState(StateProcessing)
	}
}

// HandlePartial updates the live transcript. The accumulated buffer is
// never written from partial events.
func (m *Machine) HandlePartial(text string) {
	if m.state != StateListening && m.state != StateStarting {
		return
	}
	m.partial = text
	if m.cfg.Field != nil && !m.cfg.Field.HasFocus() {
		m.cfg.Field.SetTextSilently(m.Preview())
	}
}

// HandleFinal merges a finalized transcript into the accumulated buffer
// and hands the merged utterance to the turn layer.
//
// Keyboard edits and speech finalization race on the same visible
// field; the merge guarantees at most one copy of the finalized text
// appears in the buffer.
func (m *Machine) HandleFinal(text string) {
	if m.state != StateListening && m.state != StateProcessing {
		return
	}

	text = strings.TrimSpace(text)
	m.partial = ""

	if text != "" {
		m.accumulated = m.merge(text)
		if m.cfg.Field != nil {
			m.cfg.Field.SetTextSilently(m.accumulated)
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordUtterance()
		}
		if m.cfg.OnUtterance != nil {
			m.cfg.OnUtterance(m.accumulated)
		}
	}

	m.setState(StateIdle)
}

// merge applies the dedup rule: the live field text wins as the base
// when the user typed during capture, and a finalized transcript the
// live text already ends with is not appended twice.
func (m *Machine) merge(text string) string {
	live := m.accumulated
	if m.cfg.Field != nil && m.cfg.Field.HasFocus() {
		live = strings.TrimSpace(m.cfg.Field.Text())
	}

	if strings.HasSuffix(live, text) {
		return live
	}

	base := m.accumulated
	if live != m.accumulated {
		base = live
	}
	if base == "" {
		return text
	}
	return base + " " + text
}

// HandleRequestCompleted returns the machine to Idle once the engine's
// request settles, unless capture was re-activated meanwhile.
func (m *Machine) HandleRequestCompleted() {
	if m.state == StateProcessing {
		m.setState(StateIdle)
	}
}

// HandleError enters the Error state and schedules automatic reversion
// to Idle. The accumulated buffer is untouched.
func (m *Machine) HandleError(code, message string) {
	m.cfg.Logger.Warn().Str("code", code).Str("message", message).Msg("speech capture error")
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordDictationError(code)
	}
	m.enterError(code, message)
}

func (m *Machine) enterError(code, message string) {
	m.partial = ""
	m.setState(StateError)

	gen := m.generation
	time.AfterFunc(m.cfg.ErrorRevertDelay, func() {
		m.cfg.Queue.Enqueue(func() {
			// A later transition supersedes the scheduled revert.
			if m.state == StateError && m.generation == gen {
				m.setState(StateIdle)
			}
		})
	})
}

func (m *Machine) setState(state State) {
	m.generation++
	if state == m.state {
		return
	}
	m.state = state
	m.cfg.Logger.Debug().Str("state", string(state)).Msg("dictation state changed")
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state)
	}
}
