package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/cli/userconfig"
	"github.com/gulfclinic/clinicadmin/internal/config"
	"github.com/gulfclinic/clinicadmin/internal/logger"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

var version = "dev"

// SetVersion records the build version for the User-Agent and the console
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

var (
	errNotLoggedIn    = errors.New("not authenticated. Please run 'clinicadmin login' first")
	errSessionExpired = errors.New("session expired or revoked. Please run 'clinicadmin login' again")
)

// options holds the injectable dependencies of a command run
type options struct {
	cfg      *config.Config
	apiURL   string
	tokens   auth.TokenStore
	out      io.Writer
	prompter Prompter
	logger   *zerolog.Logger

	listenAddr string
}

// Option overrides a dependency of a command run
type Option func(*options)

// WithConfig uses cfg instead of loading it from the environment
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithAPIURL overrides the API base URL (the --api-url flag)
func WithAPIURL(apiURL string) Option {
	return func(o *options) { o.apiURL = apiURL }
}

// WithTokenStore replaces the configured credential store
func WithTokenStore(store auth.TokenStore) Option {
	return func(o *options) { o.tokens = store }
}

// WithOutput redirects command output
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithPrompter replaces interactive terminal prompts
func WithPrompter(p Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// WithLogger replaces the global logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// env is everything a command needs to talk to the clinic API
type env struct {
	cfg     *config.Config
	apiURL  string
	tokens  auth.TokenStore
	api     *client.Client
	session *session.Holder
	out     io.Writer
	prompt  Prompter
	logger  zerolog.Logger

	listenAddr string
}

// newEnv resolves configuration and wires the client and session holder.
// Every 401 seen by the client ends the session held by the holder.
func newEnv(opts ...Option) (*env, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	userCfg, err := userconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	apiURL := cfg.ResolveAPIURL(o.apiURL, userCfg.APIURL)

	log := logger.GetLogger()
	if o.logger != nil {
		log = *o.logger
	}

	tokens := o.tokens
	if tokens == nil {
		tokens, err = auth.NewStore(cfg.Credentials.Store, cfg.Credentials.File, apiURL)
		if err != nil {
			return nil, err
		}
	}

	prompter := o.prompter
	if prompter == nil {
		prompter = terminalPrompter{}
	}

	api := client.New(apiURL, tokens,
		client.WithTimeout(cfg.API.Timeout),
		client.WithLogger(log),
		client.WithUserAgent("clinicadmin/"+version),
	)
	holder := session.New(api, tokens,
		session.WithLogger(log),
		session.WithVerifyTimeout(cfg.Session.VerifyTimeout),
	)
	api.OnUnauthenticated(holder.Rejected)

	return &env{
		cfg:     cfg,
		apiURL:  apiURL,
		tokens:  tokens,
		api:     api,
		session: holder,
		out:     o.out,
		prompt:  prompter,
		logger:  log,

		listenAddr: o.listenAddr,
	}, nil
}

// requireSession verifies the stored credential and returns the admin it
// belongs to. A transient failure is reported as such and keeps the
// credential; only a resolved unauthenticated session asks for a new login.
func (e *env) requireSession(ctx context.Context) (*client.Identity, error) {
	st, err := e.session.Verify(ctx)
	switch session.Decide(st) {
	case session.Admit:
		return st.Identity, nil
	case session.Redirect:
		return nil, errNotLoggedIn
	default:
		if err == nil {
			err = errors.New("no answer from server")
		}
		return nil, fmt.Errorf("could not verify session (credential kept): %w", err)
	}
}

// apiFailure rewrites a 401 on a domain call into a login hint
func apiFailure(err error) error {
	if client.IsUnauthenticated(err) {
		return errSessionExpired
	}
	return err
}

// globalOptions reads the persistent root flags
func globalOptions(cmd *cobra.Command) []Option {
	var opts []Option
	if apiURL, err := cmd.Flags().GetString("api-url"); err == nil && apiURL != "" {
		opts = append(opts, WithAPIURL(apiURL))
	}
	return opts
}

func roleLabel(r client.Role) string {
	if r == client.RoleSuperAdmin {
		return "Super admin"
	}
	return "Admin"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
