package tome

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

type RefreshState int

const (
	RefreshStateIdle RefreshState = iota
	RefreshStateRefreshing
	RefreshStateAttempted
)

func (self RefreshState) String() string {
	switch self {
	case RefreshStateIdle:
		return "idle"
	case RefreshStateRefreshing:
		return "refreshing"
	default:
		return "attempted"
	}
}

// silent re-authentication. returns the replacement session on success
type RefreshFunction = func(ctx context.Context) (*Session, error)

type RefreshStateFunction = func(state RefreshState)

// watches for a session that is authenticated but degraded
// (identity present, no usable token) and issues at most one silent
// re-authentication per session generation. a fresh login resets the
// state machine. this bounds refresh attempts to one per session
// lifetime, so a backend that keeps failing to mint a token cannot
// cause a refresh storm
type AuthRefreshSupervisor struct {
	ctx context.Context

	sessions *SessionStore
	refresh  RefreshFunction

	stateLock sync.Mutex
	state     RefreshState
	// session generation the current state is bound to
	generation int

	stateCallbacks *CallbackList[RefreshStateFunction]
}

func NewAuthRefreshSupervisor(ctx context.Context, sessions *SessionStore, refresh RefreshFunction) *AuthRefreshSupervisor {
	return &AuthRefreshSupervisor{
		ctx:            ctx,
		sessions:       sessions,
		refresh:        refresh,
		state:          RefreshStateIdle,
		stateCallbacks: NewCallbackList[RefreshStateFunction](),
	}
}

func (self *AuthRefreshSupervisor) State() RefreshState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.generation != self.sessions.Generation() {
		return RefreshStateIdle
	}
	return self.state
}

// returns a function to remove the callback
func (self *AuthRefreshSupervisor) AddStateChangeCallback(stateCallback RefreshStateFunction) func() {
	return self.stateCallbacks.Add(stateCallback)
}

// evaluates the current session and starts a silent re-authentication
// when it is degraded and none was attempted for this session generation.
// returns whether an attempt was started
func (self *AuthRefreshSupervisor) Check() bool {
	session := self.sessions.Get()
	if session == nil || !session.Degraded() {
		return false
	}

	self.stateLock.Lock()
	generation := self.sessions.Generation()
	if self.generation == generation && self.state != RefreshStateIdle {
		// already refreshing or attempted for this session instance
		self.stateLock.Unlock()
		return false
	}
	self.generation = generation
	self.state = RefreshStateRefreshing
	self.stateLock.Unlock()

	glog.Infof("[auth]silent refresh for %s\n", session.User.Email)
	self.notifyState(RefreshStateRefreshing)

	go HandleError(func() {
		refreshedSession, err := self.refresh(self.ctx)

		self.stateLock.Lock()
		if self.generation == generation {
			self.state = RefreshStateAttempted
		}
		self.stateLock.Unlock()
		self.notifyState(RefreshStateAttempted)

		if err != nil {
			glog.Infof("[auth]silent refresh failed: %s\n", err)
			return
		}
		if refreshedSession != nil && !refreshedSession.Degraded() {
			// a new session generation. the state machine is
			// effectively reset for it
			self.sessions.Set(refreshedSession)
		}
	})
	return true
}

func (self *AuthRefreshSupervisor) notifyState(state RefreshState) {
	for _, stateCallback := range self.stateCallbacks.Get() {
		stateCallback := stateCallback
		HandleError(func() {
			stateCallback(state)
		})
	}
}
