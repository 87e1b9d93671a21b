package chatsync

// State is the lifecycle state of a Synchronizer.
type State int

const (
	// StateIdle means no conversation is selected.
	StateIdle State = iota
	// StateLoading means a conversation was selected and its history is being fetched.
	StateLoading
	// StateLive means the sequence is loaded and following the change feed.
	StateLive
	// StateReconnecting means the change feed dropped and is being re-established.
	StateReconnecting
	// StateStalled means reconnecting gave up. Selecting the conversation again retries.
	StateStalled
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateStalled:
		return "stalled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener observes a Synchronizer. Its methods are called in order while
// the synchronizer's lock is held, so they must return quickly and must not
// call back into the synchronizer.
type Listener interface {
	// SequenceChanged receives a copy of the full displayed sequence.
	SequenceChanged(conversationID string, messages []Message)
	StateChanged(state State)
	// Notice reports a non-fatal failure, matching one of the domain error sentinels.
	Notice(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnSequence func(conversationID string, messages []Message)
	OnState    func(state State)
	OnNotice   func(err error)
}

func (l ListenerFuncs) SequenceChanged(conversationID string, messages []Message) {
	if l.OnSequence != nil {
		l.OnSequence(conversationID, messages)
	}
}

func (l ListenerFuncs) StateChanged(state State) {
	if l.OnState != nil {
		l.OnState(state)
	}
}

func (l ListenerFuncs) Notice(err error) {
	if l.OnNotice != nil {
		l.OnNotice(err)
	}
}

type nopListener struct{}

func (nopListener) SequenceChanged(string, []Message) {}
func (nopListener) StateChanged(State)                {}
func (nopListener) Notice(error)                      {}
