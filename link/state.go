package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/looplab/fsm"

	"github.com/arloliu/go-wearlink/logger"
)

// StateKind is the stage of the device link.
type StateKind uint8

// Link state kinds.
const (
	// Disconnected is the initial state. The transport is closed.
	Disconnected StateKind = iota
	// Connecting means the transport is being opened.
	Connecting
	// Initializing means the transport is open and the init transaction runs.
	Initializing
	// Initialized means the link is ready for work.
	Initialized
	// Busy means a labelled long-running activity, e.g. a sync, is in progress.
	Busy
	// Failed means initialization failed. Retry reconnects.
	Failed
	// Shutdown is terminal.
	Shutdown
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Initializing: "initializing",
	Initialized:  "initialized",
	Busy:         "busy",
	Failed:       "failed",
	Shutdown:     "shutdown",
}

// String returns the state name.
func (k StateKind) String() string {
	if int(k) < len(stateNames) {
		return stateNames[k]
	}

	return "unknown"
}

func parseStateKind(name string) (StateKind, bool) {
	for i, n := range stateNames {
		if n == name {
			return StateKind(i), true
		}
	}

	return Disconnected, false
}

// State is the current link state. Label is set for Busy and Reason for Failed.
type State struct {
	Kind   StateKind
	Label  string
	Reason string
}

// String returns a human readable state.
func (s State) String() string {
	switch {
	case s.Kind == Busy && s.Label != "":
		return fmt.Sprintf("busy(%s)", s.Label)
	case s.Kind == Failed && s.Reason != "":
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.Kind.String()
	}
}

// State machine events.
const (
	EventConnect    = "connect"
	EventReady      = "ready"
	EventInitOK     = "init_ok"
	EventInitFail   = "init_fail"
	EventBusy       = "busy"
	EventIdle       = "idle"
	EventRetry      = "retry"
	EventDisconnect = "disconnect"
	EventShutdown   = "shutdown"
)

// StateHandler is invoked on every state change.
//
// Handlers run synchronously and in order on the goroutine that changed the
// state. They may read the state but must not change it.
type StateHandler func(prev State, next State)

// StateMachine is the device link state machine.
//
//	Disconnected -connect-> Connecting -ready-> Initializing -init_ok-> Initialized
//	Initialized -busy(label)-> Busy -idle-> Initialized
//	Initializing -init_fail(reason)-> Failed -retry-> Connecting
//	any -disconnect-> Disconnected
//	any -shutdown-> Shutdown
type StateMachine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	notifyMu sync.Mutex // serializes transitions and handler calls
	fsm      *fsm.FSM
	state    State
	handlers []StateHandler
	logger   logger.Logger
}

// NewStateMachine creates a StateMachine in the Disconnected state.
func NewStateMachine(l logger.Logger, handlers ...StateHandler) *StateMachine {
	if l == nil {
		l = logger.GetLogger()
	}

	sm := &StateMachine{
		state:    State{Kind: Disconnected},
		handlers: slices.Clone(handlers),
		logger:   l,
	}
	sm.cond = sync.NewCond(&sm.mu)

	// every state but Shutdown
	live := []string{
		Disconnected.String(), Connecting.String(), Initializing.String(),
		Initialized.String(), Busy.String(), Failed.String(),
	}

	sm.fsm = fsm.NewFSM(
		Disconnected.String(),
		fsm.Events{
			{Name: EventConnect, Src: []string{Disconnected.String()}, Dst: Connecting.String()},
			{Name: EventReady, Src: []string{Connecting.String()}, Dst: Initializing.String()},
			{Name: EventInitOK, Src: []string{Initializing.String()}, Dst: Initialized.String()},
			{Name: EventInitFail, Src: []string{Initializing.String()}, Dst: Failed.String()},
			{Name: EventBusy, Src: []string{Initialized.String()}, Dst: Busy.String()},
			{Name: EventIdle, Src: []string{Busy.String()}, Dst: Initialized.String()},
			{Name: EventRetry, Src: []string{Failed.String()}, Dst: Connecting.String()},
			{Name: EventDisconnect, Src: live, Dst: Disconnected.String()},
			{Name: EventShutdown, Src: live, Dst: Shutdown.String()},
		},
		fsm.Callbacks{
			// runs inside Fire with sm.mu held
			"enter_state": func(_ context.Context, e *fsm.Event) {
				kind, _ := parseStateKind(e.Dst)
				next := State{Kind: kind}
				if len(e.Args) > 0 {
					if detail, ok := e.Args[0].(string); ok {
						switch kind {
						case Busy:
							next.Label = detail
						case Failed:
							next.Reason = detail
						}
					}
				}
				sm.state = next
			},
		},
	)

	return sm
}

// AddHandler adds state change handlers.
func (sm *StateMachine) AddHandler(handlers ...StateHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.handlers = append(sm.handlers, handlers...)
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.state
}

// Can reports whether event is allowed in the current state.
func (sm *StateMachine) Can(event string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.fsm.Can(event)
}

// Fire applies event. detail is the busy label or the failure reason.
//
// An event that leaves the state unchanged, e.g. disconnect while
// Disconnected, returns nil without calling handlers. An event not allowed
// in the current state returns ErrInvalidTransition.
func (sm *StateMachine) Fire(ctx context.Context, event string, detail ...string) error {
	sm.notifyMu.Lock()
	defer sm.notifyMu.Unlock()

	return sm.fire(ctx, event, detail)
}

// Transition moves to the target state kind, choosing the event from the
// current state, e.g. Initialized from Busy is idle.
func (sm *StateMachine) Transition(ctx context.Context, target State) error {
	sm.notifyMu.Lock()
	defer sm.notifyMu.Unlock()

	cur := sm.Current()
	if cur == target {
		return nil
	}

	event, detail := eventFor(cur.Kind, target)
	if event == "" {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, target)
	}

	return sm.fire(ctx, event, detail)
}

func eventFor(cur StateKind, target State) (string, []string) {
	switch target.Kind {
	case Disconnected:
		return EventDisconnect, nil
	case Connecting:
		if cur == Failed {
			return EventRetry, nil
		}
		return EventConnect, nil
	case Initializing:
		return EventReady, nil
	case Initialized:
		if cur == Busy {
			return EventIdle, nil
		}
		return EventInitOK, nil
	case Busy:
		return EventBusy, []string{target.Label}
	case Failed:
		return EventInitFail, []string{target.Reason}
	case Shutdown:
		return EventShutdown, nil
	default:
		return "", nil
	}
}

func (sm *StateMachine) fire(ctx context.Context, event string, detail []string) error {
	args := make([]any, 0, len(detail))
	for _, d := range detail {
		args = append(args, d)
	}

	sm.mu.Lock()
	prev := sm.state
	err := sm.fsm.Event(ctx, event, args...)
	next := sm.state
	handlers := slices.Clone(sm.handlers)
	if err == nil {
		sm.cond.Broadcast()
	}
	sm.mu.Unlock()

	if err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}

		sm.logger.Debug("link: invalid state transition", "state", prev, "event", event, "error", err)

		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, prev)
	}

	sm.logger.Info("link: state changed", "from", prev, "to", next)
	for _, h := range handlers {
		h(prev, next)
	}

	return nil
}

// WaitState blocks until the state kind is reached or ctx is done.
func (sm *StateMachine) WaitState(ctx context.Context, kind StateKind) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state.Kind == kind {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		sm.cond.Broadcast()
		sm.mu.Unlock()
	})
	defer stop()

	for sm.state.Kind != kind {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.cond.Wait()
	}

	return nil
}
