// Package guard decides which screens an attempt may enter. It reads state and
// never changes it; a refused screen is a redirect, not an error.
package guard

import (
	"net/http"

	"examgate/internal/verification"
)

// Screen is a navigable step of the exam UI.
type Screen string

const (
	ScreenVerifyStart Screen = "verify-start"
	ScreenExamSession Screen = "exam-session"
	ScreenVerifyEnd   Screen = "verify-end"
)

// Fallback is where every refused navigation lands.
const Fallback = ScreenVerifyStart

var screens = map[Screen]struct{}{
	ScreenVerifyStart: {},
	ScreenExamSession: {},
	ScreenVerifyEnd:   {},
}

// ParseScreen maps a path segment to a screen.
func ParseScreen(s string) (Screen, bool) {
	_, ok := screens[Screen(s)]
	return Screen(s), ok
}

// Path is the URL path a screen is served at.
func (s Screen) Path() string { return "/" + string(s) }

// CanEnter reports whether state allows rendering screen. Unknown screens are
// never enterable.
//
// The exam and end-verification screens both need a subject, an active session
// and a passed start checkpoint. Neither is enterable once the attempt is
// submitted.
func CanEnter(screen Screen, state verification.State) bool {
	switch screen {
	case ScreenVerifyStart:
		return true
	case ScreenExamSession, ScreenVerifyEnd:
		return state.HasSubject() &&
			state.HasSession() &&
			state.StartVerified &&
			state.Phase != verification.PhaseSubmitted
	default:
		return false
	}
}

// Resolve returns screen when it may be entered, otherwise the fallback and
// false.
func Resolve(screen Screen, state verification.State) (Screen, bool) {
	if CanEnter(screen, state) {
		return screen, true
	}
	return Fallback, false
}

// StateFunc returns the state of the attempt behind a request. Requests
// without an attempt should get verification.NewState().
type StateFunc func(r *http.Request) verification.State

// RequireScreen redirects with 303 See Other to the fallback screen when the
// attempt may not enter screen.
func RequireScreen(screen Screen, stateOf StateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if target, ok := Resolve(screen, stateOf(r)); !ok {
				http.Redirect(w, r, target.Path(), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Landing is the screen an attempt in state belongs on. A submitted attempt
// lands back on start verification.
func Landing(state verification.State) Screen {
	switch {
	case state.Phase == verification.PhaseEndVerifying:
		return ScreenVerifyEnd
	case CanEnter(ScreenExamSession, state):
		return ScreenExamSession
	default:
		return ScreenVerifyStart
	}
}
