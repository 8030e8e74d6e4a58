package session

// Decision is what a protected view should do for a given session state
type Decision int

const (
	// Wait renders a neutral waiting indicator; never redirect
	Wait Decision = iota
	// Redirect sends the user to the login view
	Redirect
	// Admit renders the protected content
	Admit
)

func (d Decision) String() string {
	switch d {
	case Redirect:
		return "redirect"
	case Admit:
		return "admit"
	default:
		return "wait"
	}
}

// Decide maps a session state to a route guard decision. Protected content
// is admitted only with a confirmed identity, and only a resolved
// unauthenticated state leads to the login view.
func Decide(s State) Decision {
	switch s.Status {
	case StatusAuthenticated:
		if s.Identity == nil {
			return Wait
		}
		return Admit
	case StatusUnauthenticated:
		return Redirect
	default:
		return Wait
	}
}
