package auth

import "time"

// Phase is the coarse state of the session manager.
type Phase string

const (
	PhaseUninitialized          Phase = "UNINITIALIZED"
	PhaseLoading                Phase = "LOADING"
	PhaseAuthenticatedNoProfile Phase = "AUTHENTICATED_NO_PROFILE"
	PhaseAuthenticated          Phase = "AUTHENTICATED_WITH_PROFILE"
	PhaseUnauthenticated        Phase = "UNAUTHENTICATED"
)

var phaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseUninitialized: {
		PhaseLoading: {},
	},
	PhaseLoading: {
		PhaseAuthenticatedNoProfile: {},
		PhaseAuthenticated:          {},
		PhaseUnauthenticated:        {},
		PhaseUninitialized:          {},
	},
	PhaseAuthenticatedNoProfile: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
		PhaseUninitialized:   {},
	},
	PhaseAuthenticated: {
		PhaseAuthenticatedNoProfile: {},
		PhaseUnauthenticated:        {},
		PhaseUninitialized:          {},
	},
	PhaseUnauthenticated: {
		PhaseAuthenticatedNoProfile: {},
		PhaseAuthenticated:          {},
		PhaseUninitialized:          {},
	},
}

// CanTransition reports whether moving from p to target is allowed.
// Staying in the same phase is always allowed.
func (p Phase) CanTransition(target Phase) bool {
	if p == target {
		return true
	}
	allowed, ok := phaseTransitions[p]
	if !ok {
		return false
	}
	_, exists := allowed[target]
	return exists
}

// IsSettled reports whether the phase is one of the terminal outcomes of
// loading.
func (p Phase) IsSettled() bool {
	switch p {
	case PhaseAuthenticated, PhaseAuthenticatedNoProfile, PhaseUnauthenticated:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable view of the manager state. Values returned by
// the manager are never modified afterwards.
type Snapshot struct {
	Phase          Phase
	User           *AuthenticatedUser
	Session        *Session
	Profile        *Profile
	Loading        bool
	ProfileLoading bool
	UpdatedAt      time.Time
}

// IsAuthenticated reports whether a user is signed in.
func (s Snapshot) IsAuthenticated() bool {
	return s.User != nil
}

// Role returns the profile role when a profile is loaded.
func (s Snapshot) Role() (Role, bool) {
	if s.Profile == nil {
		return "", false
	}
	return s.Profile.Role, s.Profile.Role.IsValid()
}

// UserID returns the signed in user id or an empty string.
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

func derivePhase(loading bool, user *AuthenticatedUser, profile *Profile) Phase {
	switch {
	case loading:
		return PhaseLoading
	case user == nil:
		return PhaseUnauthenticated
	case profile == nil:
		return PhaseAuthenticatedNoProfile
	default:
		return PhaseAuthenticated
	}
}
