// ABOUTME: Two-state session machine (Fresh / Continuing) as a pure transition table
// ABOUTME: Decides which store action an exchange outcome or reset requires

package session

// State is a user's position in the session lifecycle.
type State int

const (
	// Fresh means no record: the next exchange starts a new conversation.
	Fresh State = iota
	// Continuing means a token is stored and the next exchange resumes it.
	Continuing
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Continuing:
		return "continuing"
	default:
		return "unknown"
	}
}

// Event is something that happened to a user's session.
type Event int

const (
	// TokenIssued means the exchange produced a continuation token.
	TokenIssued Event = iota
	// NoToken means the exchange produced no token (tool failure, etc).
	NoToken
	// Reset is the user's explicit request to start over.
	Reset
)

func (e Event) String() string {
	switch e {
	case TokenIssued:
		return "token_issued"
	case NoToken:
		return "no_token"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Action is the store operation a transition requires.
type Action int

const (
	ActionNone Action = iota
	ActionPut
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionPut:
		return "put"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Transition returns the next state and the store action for event.
// A missing token never discards an existing record.
func Transition(state State, event Event) (State, Action) {
	switch event {
	case TokenIssued:
		return Continuing, ActionPut
	case Reset:
		if state == Continuing {
			return Fresh, ActionDelete
		}
		return Fresh, ActionNone
	default:
		return state, ActionNone
	}
}

// Session is a snapshot of one user's session.
type Session struct {
	UserID string
	State  State
	Token  string
}

// Active reports whether the session carries a continuation token.
func (s Session) Active() bool {
	return s.State == Continuing
}
