package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

const (
	defaultVerifyTimeout = 10 * time.Second
	logoutNotifyTimeout  = 5 * time.Second

	// rejected credentials remembered before unstored ones are dropped
	maxRejected = 32
)

// ErrNotConfirmed is returned by Login when the server issued a token but
// did not confirm it on verification
var ErrNotConfirmed = errors.New("server did not confirm the session")

// API is the part of the clinic API the holder depends on
type API interface {
	Login(ctx context.Context, email, password string) (*client.LoginResponse, error)
	Session(ctx context.Context, token string) (*client.Identity, error)
	Logout(ctx context.Context, token string) error
}

// Holder owns the session state for the whole process.
//
// Every verification takes a sequence number when issued. A result is
// applied only if no later-issued result has been applied, so an earlier
// call that resolves late never overwrites a newer answer. A success is
// further applied only while the credential it verified is still the stored
// one and has never been rejected; logout and 401 eviction therefore cannot
// be undone by a verification that was already in flight.
type Holder struct {
	api           API
	tokens        auth.TokenStore
	logger        zerolog.Logger
	verifyTimeout time.Duration

	mu       sync.Mutex
	state    State
	token    string // credential the current state was derived from
	issued   uint64
	applied  uint64
	rejected map[string]struct{}
	subs     map[int]chan State
	nextSub  int

	flights singleflight.Group
}

// Option configures a Holder
type Option func(*Holder)

// WithLogger sets the logger used for transitions and background failures
func WithLogger(l zerolog.Logger) Option {
	return func(h *Holder) {
		h.logger = l.With().Str("component", "session").Logger()
	}
}

// WithVerifyTimeout bounds each verification call
func WithVerifyTimeout(d time.Duration) Option {
	return func(h *Holder) {
		if d > 0 {
			h.verifyTimeout = d
		}
	}
}

// New creates a holder in the unknown state
func New(api API, tokens auth.TokenStore, opts ...Option) *Holder {
	h := &Holder{
		api:           api,
		tokens:        tokens,
		logger:        zerolog.Nop(),
		verifyTimeout: defaultVerifyTimeout,
		state:         unknown(),
		rejected:      make(map[string]struct{}),
		subs:          make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(h)
	}
	stateGauge.Set(float64(StatusUnknown))
	return h
}

// Init starts the first verification in the background. Call once on start.
func (h *Holder) Init(ctx context.Context) {
	go func() {
		_, _ = h.Verify(ctx)
	}()
}

// State returns the current session snapshot
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Subscribe returns a channel that receives the latest state after every
// transition, and a function to stop receiving. Slow readers only miss
// intermediate states, never the latest one.
func (h *Holder) Subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan State, 1)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Verify asks the server whether the stored credential is still valid and
// converges the state to the answer. Safe to call concurrently.
//
// An error is returned only for transient failures (network, server fault,
// timeout, unreadable credential store); the state is left unchanged in that
// case. Rejections and malformed answers are reported through the state.
func (h *Holder) Verify(ctx context.Context) (State, error) {
	seq := h.issue()

	token, err := h.tokens.LoadToken()
	if errors.Is(err, auth.ErrNoCredential) {
		verificationsTotal.WithLabelValues(outcomeNoCredential).Inc()
		return h.applyNoCredential(seq), nil
	}
	if err != nil {
		verificationsTotal.WithLabelValues(outcomeTransient).Inc()
		h.logger.Warn().Err(err).Msg("Session check skipped, credential store unreadable")
		return h.State(), fmt.Errorf("failed to read stored credential: %w", err)
	}

	// Concurrent checks of the same credential share one request; each caller
	// still applies the result under its own sequence number.
	ch := h.flights.DoChan(token, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.verifyTimeout)
		defer cancel()
		return h.api.Session(fctx, token)
	})

	select {
	case res := <-ch:
		identity, _ := res.Val.(*client.Identity)
		return h.settle(seq, token, identity, res.Err)
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

// Login exchanges email and password for a credential, stores it and
// verifies it before returning
func (h *Holder) Login(ctx context.Context, email, password string) (State, error) {
	resp, err := h.api.Login(ctx, email, password)
	if err != nil {
		return h.State(), err
	}

	if err := h.tokens.SaveToken(resp.Token); err != nil {
		return h.State(), fmt.Errorf("failed to save authentication token: %w", err)
	}

	h.mu.Lock()
	delete(h.rejected, resp.Token)
	h.mu.Unlock()

	st, err := h.Verify(ctx)
	if err != nil {
		return st, fmt.Errorf("login succeeded but session verification failed: %w", err)
	}
	if !st.Authenticated() {
		return st, ErrNotConfirmed
	}
	return st, nil
}

// Logout clears the credential and forces the unauthenticated state
// regardless of verifications in flight, then tells the server on a best
// effort basis. Only a failure to clear local storage is returned.
func (h *Holder) Logout(ctx context.Context) error {
	h.mu.Lock()
	token, _ := h.tokens.LoadToken()
	deleteErr := h.tokens.DeleteToken()
	if token != "" {
		h.rejected[token] = struct{}{}
	}
	if h.token != "" {
		h.rejected[h.token] = struct{}{}
	}
	h.applied = h.issued
	h.token = ""
	h.setLocked(unauthenticated())
	h.mu.Unlock()

	if token != "" {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutNotifyTimeout)
		defer cancel()
		if err := h.api.Logout(nctx, token); err != nil {
			h.logger.Debug().Err(err).Msg("Logout notification failed, ignoring")
		}
	}

	if deleteErr != nil {
		return fmt.Errorf("failed to remove stored credential: %w", deleteErr)
	}
	return nil
}

// Rejected records that the server answered 401 to a request carrying token.
// Register it with client.OnUnauthenticated so that a rejection on any call
// ends the session.
func (h *Holder) Rejected(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejectLocked(token)
}

func (h *Holder) issue() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issued++
	return h.issued
}

func (h *Holder) settle(seq uint64, token string, identity *client.Identity, err error) (State, error) {
	if err == nil && identity == nil {
		err = fmt.Errorf("%w: missing admin", client.ErrMalformedResponse)
	}

	switch {
	case err == nil:
		return h.applySuccess(seq, token, identity), nil

	case client.IsUnauthenticated(err):
		verificationsTotal.WithLabelValues(outcomeRejected).Inc()
		h.logger.Info().Msg("Stored credential rejected by server")
		h.mu.Lock()
		defer h.mu.Unlock()
		h.rejectLocked(token)
		return h.state, nil

	case errors.Is(err, client.ErrMalformedResponse), errors.Is(err, client.ErrRejected):
		verificationsTotal.WithLabelValues(outcomeMalformed).Inc()
		h.logger.Warn().Err(err).Msg("Session check returned no usable identity")
		return h.applyUnusable(seq, token), nil

	default:
		// Keep the last known state: a flaky request must not end a session
		// that may still be valid.
		verificationsTotal.WithLabelValues(outcomeTransient).Inc()
		h.logger.Warn().Err(err).Msg("Session check failed, keeping current state")
		return h.State(), err
	}
}

func (h *Holder) applySuccess(seq uint64, token string, identity *client.Identity) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.currentLocked(token) || seq <= h.applied {
		verificationsTotal.WithLabelValues(outcomeStale).Inc()
		return h.state
	}

	verificationsTotal.WithLabelValues(outcomeAuthenticated).Inc()
	h.applied = seq
	h.token = token
	h.setLocked(authenticated(identity))
	h.pruneRejectedLocked()
	return h.state
}

// applyUnusable handles a 2xx answer without a valid identity. The state
// becomes unauthenticated but the credential is kept: only a 401 proves it
// is dead.
func (h *Holder) applyUnusable(seq uint64, token string) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.currentLocked(token) || seq <= h.applied {
		verificationsTotal.WithLabelValues(outcomeStale).Inc()
		return h.state
	}

	h.applied = seq
	h.token = ""
	h.setLocked(unauthenticated())
	return h.state
}

func (h *Holder) applyNoCredential(seq uint64) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if seq <= h.applied {
		return h.state
	}

	h.applied = seq
	h.token = ""
	h.setLocked(unauthenticated())
	return h.state
}

// rejectLocked marks token dead and ends any session derived from it. If a
// different credential has been stored since (a newer login), the session
// goes back to unknown until that credential is verified.
func (h *Holder) rejectLocked(token string) {
	if token == "" {
		return
	}
	h.rejected[token] = struct{}{}
	if len(h.rejected) > maxRejected {
		h.pruneRejectedLocked()
	}

	current, err := h.tokens.LoadToken()
	if err == nil && current != token {
		if h.token == token {
			h.token = ""
			h.setLocked(unknown())
		}
		return
	}

	if err == nil && current == token {
		if err := h.tokens.DeleteToken(); err != nil {
			h.logger.Error().Err(err).Msg("Failed to remove rejected credential")
		}
	}

	// Everything issued so far verified this credential or none at all
	h.applied = h.issued
	h.token = ""
	h.setLocked(unauthenticated())
}

// pruneRejectedLocked forgets rejected credentials that are no longer
// stored. A verification of such a credential is already refused by the
// stored-token check; only the stored credential needs the mark.
func (h *Holder) pruneRejectedLocked() {
	current, err := h.tokens.LoadToken()
	for token := range h.rejected {
		if err == nil && token == current {
			continue
		}
		delete(h.rejected, token)
	}
}

// currentLocked reports whether token is still the stored, unrejected credential
func (h *Holder) currentLocked(token string) bool {
	if _, dead := h.rejected[token]; dead {
		return false
	}
	current, err := h.tokens.LoadToken()
	return err == nil && current == token
}

func (h *Holder) setLocked(s State) {
	if h.state.equal(s) {
		return
	}

	prev := h.state.Status
	h.state = s
	stateGauge.Set(float64(s.Status))

	ev := h.logger.Info().
		Str("from", prev.String()).
		Str("to", s.Status.String())
	if s.Identity != nil {
		ev = ev.Str("admin_id", s.Identity.ID).Str("role", string(s.Identity.Role))
	}
	ev.Msg("Session state changed")

	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Replace the unread state with the latest one
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
