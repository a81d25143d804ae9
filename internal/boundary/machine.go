package boundary

import (
	"time"

	"github.com/maauso/tunewatch/internal/audio"
	"github.com/maauso/tunewatch/internal/segment"
)

// Action is the decision taken for one buffer.
type Action string

const (
	// ActionNone keeps the machine accumulating or idle.
	ActionNone Action = "none"
	// ActionCommit hands Outcome.Segment to the encoder.
	ActionCommit Action = "commit"
	// ActionReset means the pending segment was discarded.
	ActionReset Action = "reset"
)

// Reason explains a commit or reset.
type Reason string

const (
	ReasonTrigger  Reason = "trigger"
	ReasonOverflow Reason = "overflow"
)

// Phase is the coarse state of the machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseAccumulating Phase = "accumulating"
)

// Outcome reports what Process decided.
type Outcome struct {
	Action Action
	Reason Reason
	// Segment is set only for ActionCommit.
	Segment *segment.Segment
	// PossibleTrigger is the trigger flag as it stood when the decision
	// was made.
	PossibleTrigger bool
}

// State is a snapshot of the machine.
type State struct {
	Phase           Phase         `json:"phase"`
	SpeechActive    bool          `json:"speech_active"`
	PossibleTrigger bool          `json:"possible_trigger"`
	HasSpeechStart  bool          `json:"has_speech_start"`
	SpeechStart     time.Duration `json:"speech_start"`
	Position        time.Duration `json:"position"`
	PendingFrames   int           `json:"pending_frames"`
	Pending         time.Duration `json:"pending"`
}

// Machine is the boundary state machine for one capture session. Time is
// stream time: the frames consumed so far divided by the sample rate.
// A Machine is not safe for concurrent use.
type Machine struct {
	policy Policy
	format audio.Format
	acc    *segment.Accumulator

	position        int64
	speechStart     int64
	hasSpeechStart  bool
	speechActive    bool
	possibleTrigger bool
}

// NewMachine creates an idle Machine. The policy is validated.
func NewMachine(policy Policy, format audio.Format) (*Machine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		policy: policy,
		format: format,
		acc:    segment.NewAccumulator(format),
	}, nil
}

// Policy returns the policy the machine runs.
func (m *Machine) Policy() Policy { return m.policy }

// Process applies one classified buffer and returns the decision.
// After every call the pending segment is no longer than MaxSegment.
func (m *Machine) Process(buf audio.Buffer, silent bool) Outcome {
	if silent {
		return m.silence(buf)
	}
	return m.signal(buf)
}

func (m *Machine) signal(buf audio.Buffer) Outcome {
	if !m.hasSpeechStart {
		m.speechStart = m.position
		m.hasSpeechStart = true
	}
	if !m.speechActive {
		if !m.possibleTrigger {
			m.acc.Reset()
		}
		m.speechActive = true
	}

	m.acc.Add(buf)
	m.position += int64(buf.Frames())

	if m.possibleTrigger && m.measure() > m.policy.MinSegment {
		return m.commit(ReasonTrigger)
	}
	if m.acc.Duration() > m.policy.MaxSegment {
		return m.overflow()
	}
	return Outcome{Action: ActionNone, PossibleTrigger: m.possibleTrigger}
}

func (m *Machine) silence(buf audio.Buffer) Outcome {
	if m.hasSpeechStart {
		if m.policy.inTriggerWindow(m.measure()) {
			m.possibleTrigger = true
		}
		m.hasSpeechStart = false
		if m.policy.EndRunOnSilence {
			m.speechActive = false
		}
	}

	m.position += int64(buf.Frames())

	if m.acc.Duration() > m.policy.MaxSegment {
		return m.overflow()
	}
	return Outcome{Action: ActionNone, PossibleTrigger: m.possibleTrigger}
}

// measure returns the duration the trigger window and MinSegment compare
// against.
func (m *Machine) measure() time.Duration {
	if m.policy.Anchor == AnchorSegment {
		return m.acc.Duration()
	}
	if !m.hasSpeechStart {
		return 0
	}
	return m.format.DurationOf(int(m.position - m.speechStart))
}

func (m *Machine) overflow() Outcome {
	if m.policy.Overflow == OverflowCommit {
		return m.commit(ReasonOverflow)
	}
	trigger := m.possibleTrigger
	m.acc.Reset()
	return Outcome{Action: ActionReset, Reason: ReasonOverflow, PossibleTrigger: trigger}
}

func (m *Machine) commit(reason Reason) Outcome {
	out := Outcome{
		Action:          ActionCommit,
		Reason:          reason,
		Segment:         m.acc.Take(),
		PossibleTrigger: m.possibleTrigger,
	}
	m.possibleTrigger = false
	m.speechActive = false
	m.hasSpeechStart = false
	m.speechStart = 0
	return out
}

// Reset discards the pending segment and returns the machine to idle.
func (m *Machine) Reset() {
	m.acc.Reset()
	m.position = 0
	m.speechStart = 0
	m.hasSpeechStart = false
	m.speechActive = false
	m.possibleTrigger = false
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	phase := PhaseIdle
	if m.speechActive || m.possibleTrigger || m.acc.Len() > 0 {
		phase = PhaseAccumulating
	}
	s := State{
		Phase:           phase,
		SpeechActive:    m.speechActive,
		PossibleTrigger: m.possibleTrigger,
		HasSpeechStart:  m.hasSpeechStart,
		Position:        m.format.DurationOf(int(m.position)),
		PendingFrames:   m.acc.Frames(),
		Pending:         m.acc.Duration(),
	}
	if m.hasSpeechStart {
		s.SpeechStart = m.format.DurationOf(int(m.speechStart))
	}
	return s
}
