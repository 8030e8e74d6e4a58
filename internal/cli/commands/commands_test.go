package commands

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfclinic/clinicadmin/internal/apifake"
	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/cli/userconfig"
	"github.com/gulfclinic/clinicadmin/internal/config"
)

const (
	ownerEmail = "owner@clinic.test"
	deskEmail  = "desk@clinic.test"
	password   = "s3cret-pass"
)

// fakePrompter answers prompts from fixed values
type fakePrompter struct {
	email    string
	password string
	status   client.AppointmentStatus

	emailDefault string
	asked        []string
}

func (p *fakePrompter) Email(defaultValue string) (string, error) {
	p.asked = append(p.asked, "email")
	p.emailDefault = defaultValue
	if p.email == "" {
		return "", errors.New("no email")
	}
	return p.email, nil
}

func (p *fakePrompter) Password() (string, error) {
	p.asked = append(p.asked, "password")
	if p.password == "" {
		return "", errors.New("no password")
	}
	return p.password, nil
}

func (p *fakePrompter) Status(client.AppointmentStatus) (client.AppointmentStatus, error) {
	p.asked = append(p.asked, "status")
	if p.status == "" {
		return "", errors.New("no status")
	}
	return p.status, nil
}

type harness struct {
	api    *apifake.Server
	store  *auth.MemoryStore
	out    *bytes.Buffer
	prompt *fakePrompter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLINIC_EMAIL", "")
	t.Setenv("CLINIC_PASSWORD", "")

	api := apifake.NewServer()
	t.Cleanup(api.Close)
	api.AddAdmin(ownerEmail, password, client.RoleSuperAdmin)
	api.AddAdmin(deskEmail, password, client.RoleAdmin)

	return &harness{
		api:    api,
		store:  auth.NewMemoryStore(),
		out:    &bytes.Buffer{},
		prompt: &fakePrompter{},
	}
}

func (h *harness) opts() []Option {
	return []Option{
		WithConfig(&config.Config{
			API:     config.APIConfig{Timeout: 2 * time.Second},
			Session: config.SessionConfig{VerifyTimeout: 2 * time.Second},
		}),
		WithAPIURL(h.api.URL),
		WithTokenStore(h.store),
		WithOutput(h.out),
		WithPrompter(h.prompt),
		WithLogger(zerolog.Nop()),
	}
}

func (h *harness) signIn(t *testing.T, email string) string {
	t.Helper()
	token := h.api.IssueToken(email)
	require.NoError(t, h.store.SaveToken(token))
	return token
}

func (h *harness) storedToken(t *testing.T) string {
	t.Helper()
	token, err := h.store.LoadToken()
	if err != nil {
		return ""
	}
	return token
}

func TestLogin_WithFlags(t *testing.T) {
	h := newHarness(t)

	err := runLogin(context.Background(), ownerEmail, password, h.opts()...)
	require.NoError(t, err)

	out := h.out.String()
	assert.Contains(t, out, "Logging in to "+h.api.URL)
	assert.Contains(t, out, "✓ Login successful!")
	assert.Contains(t, out, "Admin: "+ownerEmail)
	assert.Contains(t, out, "Role: Super admin")
	assert.NotEmpty(t, h.storedToken(t))
	assert.Empty(t, h.prompt.asked)

	userCfg, err := userconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, ownerEmail, userCfg.LastEmail)
}

func TestLogin_FromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("CLINIC_EMAIL", deskEmail)
	t.Setenv("CLINIC_PASSWORD", password)

	require.NoError(t, runLogin(context.Background(), "", "", h.opts()...))
	assert.Contains(t, h.out.String(), "Role: Admin")
	assert.Empty(t, h.prompt.asked)
}

func TestLogin_PromptsForMissingInput(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, userconfig.SetLastEmail(deskEmail))
	h.prompt.email = deskEmail
	h.prompt.password = password

	require.NoError(t, runLogin(context.Background(), "", "", h.opts()...))
	assert.Equal(t, []string{"email", "password"}, h.prompt.asked)
	assert.Equal(t, deskEmail, h.prompt.emailDefault)
}

func TestLogin_InvalidPassword(t *testing.T) {
	h := newHarness(t)

	err := runLogin(context.Background(), ownerEmail, "wrong-password", h.opts()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid email or password")
	assert.Empty(t, h.storedToken(t))
	assert.NotContains(t, h.out.String(), "Login successful")
}

func TestLogin_ServerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.api.InjectFault(http.MethodPost, "/admin/login", apifake.Fault{Status: http.StatusServiceUnavailable}, -1)

	err := runLogin(context.Background(), ownerEmail, password, h.opts()...)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "invalid email or password")
	assert.True(t, client.IsTransient(err))
}

func TestLogin_ReplacesPreviousCredential(t *testing.T) {
	h := newHarness(t)
	old := h.signIn(t, deskEmail)

	require.NoError(t, runLogin(context.Background(), ownerEmail, password, h.opts()...))
	assert.NotEqual(t, old, h.storedToken(t))
	assert.Contains(t, h.out.String(), "Admin: "+ownerEmail)
}

func TestWhoami_NotLoggedIn(t *testing.T) {
	h := newHarness(t)

	err := runWhoami(context.Background(), h.opts()...)
	require.ErrorIs(t, err, errNotLoggedIn)
	assert.Zero(t, h.api.RequestCount(http.MethodGet, "/admin/me"), "no credential means no server call")
}

func TestWhoami_SignedIn(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, ownerEmail)

	require.NoError(t, runWhoami(context.Background(), h.opts()...))

	out := h.out.String()
	assert.Contains(t, out, ownerEmail)
	assert.Contains(t, out, "Super admin")
	assert.Contains(t, out, h.api.URL)
	assert.Contains(t, out, "Expires:")
}

func TestWhoami_TransientFailureKeepsCredential(t *testing.T) {
	tests := []struct {
		name  string
		fault apifake.Fault
	}{
		{"server error", apifake.Fault{Status: http.StatusServiceUnavailable}},
		{"forbidden", apifake.Fault{Status: http.StatusForbidden}},
		{"rate limited", apifake.Fault{Status: http.StatusTooManyRequests}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			token := h.signIn(t, ownerEmail)
			h.api.InjectFault(http.MethodGet, "/admin/me", tt.fault, -1)

			err := runWhoami(context.Background(), h.opts()...)
			require.Error(t, err)
			assert.NotErrorIs(t, err, errNotLoggedIn)
			assert.Contains(t, err.Error(), "credential kept")
			assert.Equal(t, token, h.storedToken(t))
		})
	}
}

func TestWhoami_RevokedCredentialIsRemoved(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t, ownerEmail)
	h.api.Revoke(token)

	err := runWhoami(context.Background(), h.opts()...)
	require.ErrorIs(t, err, errNotLoggedIn)
	assert.Empty(t, h.storedToken(t))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t, ownerEmail)

	require.NoError(t, runLogout(context.Background(), h.opts()...))
	assert.Contains(t, h.out.String(), "✓ Logged out")
	assert.Empty(t, h.storedToken(t))

	// The server no longer accepts the old credential
	require.NoError(t, h.store.SaveToken(token))
	require.ErrorIs(t, runWhoami(context.Background(), h.opts()...), errNotLoggedIn)
}

func TestLogout_ServerDownStillSignsOut(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, ownerEmail)
	h.api.InjectFault(http.MethodPost, "/admin/logout", apifake.Fault{Status: http.StatusBadGateway}, -1)

	require.NoError(t, runLogout(context.Background(), h.opts()...))
	assert.Empty(t, h.storedToken(t))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)
	now := time.Now()
	h.api.AddAppointment("Sara Ali", "+971500000001", client.StatusNew, now)
	h.api.AddAppointment("Omar Khan", "+971500000002", client.StatusClosed, now.Add(-48*time.Hour))
	h.api.SetAIHandled(1)

	require.NoError(t, runStats(context.Background(), h.opts()...))

	out := h.out.String()
	assert.Regexp(t, `Total appointments:\s+2`, out)
	assert.Regexp(t, `New today:\s+1`, out)
	assert.Regexp(t, `Handled by AI:\s+1`, out)
	assert.Regexp(t, `Conversion rate:\s+50%`, out)
}

func TestStats_NotLoggedIn(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, runStats(context.Background(), h.opts()...), errNotLoggedIn)
	assert.Zero(t, h.api.RequestCount(http.MethodGet, "/admin/stats"))
}

func TestStats_RevokedMidway(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)
	h.api.InjectFault(http.MethodGet, "/admin/stats", apifake.Fault{
		Status: http.StatusUnauthorized,
		Body:   `{"success":false,"error":"Unauthorized"}`,
	}, 1)

	err := runStats(context.Background(), h.opts()...)
	require.ErrorIs(t, err, errSessionExpired)
	assert.Empty(t, h.storedToken(t))
}

func TestAppointmentsList(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)
	now := time.Now()
	h.api.AddAppointment("Sara Ali", "+971500000001", client.StatusNew, now.Add(-time.Hour))
	h.api.AddAppointment("Omar Khan", "+971500000002", client.StatusContacted, now)

	t.Run("all", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, runAppointmentsList(context.Background(), "", "", h.opts()...))
		out := h.out.String()
		assert.Contains(t, out, "NAME")
		sara := strings.Index(out, "Sara Ali")
		omar := strings.Index(out, "Omar Khan")
		require.True(t, sara > 0 && omar > 0)
		assert.Less(t, omar, sara, "newest first")
	})

	t.Run("status filter", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, runAppointmentsList(context.Background(), "", "contacted", h.opts()...))
		assert.Contains(t, h.out.String(), "Omar Khan")
		assert.NotContains(t, h.out.String(), "Sara Ali")
	})

	t.Run("search", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, runAppointmentsList(context.Background(), "sara", "", h.opts()...))
		assert.Contains(t, h.out.String(), "Sara Ali")
		assert.NotContains(t, h.out.String(), "Omar Khan")
	})

	t.Run("no match", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, runAppointmentsList(context.Background(), "nobody", "", h.opts()...))
		assert.Contains(t, h.out.String(), "No appointments found.")
	})

	t.Run("invalid status", func(t *testing.T) {
		err := runAppointmentsList(context.Background(), "", "LOST", h.opts()...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid status")
	})
}

func TestAppointmentStatus(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)
	appt := h.api.AddAppointment("Sara Ali", "+971500000001", client.StatusNew, time.Now())

	require.NoError(t, runAppointmentStatus(context.Background(), appt.ID, "closed", h.opts()...))
	assert.Contains(t, h.out.String(), "✓ Sara Ali is now CLOSED")

	got, ok := h.api.Appointment(appt.ID)
	require.True(t, ok)
	assert.Equal(t, client.StatusClosed, got.Status)
}

func TestAppointmentStatus_Prompted(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)
	appt := h.api.AddAppointment("Sara Ali", "+971500000001", client.StatusNew, time.Now())
	h.prompt.status = client.StatusContacted

	require.NoError(t, runAppointmentStatus(context.Background(), appt.ID, "", h.opts()...))
	assert.Equal(t, []string{"status"}, h.prompt.asked)

	got, _ := h.api.Appointment(appt.ID)
	assert.Equal(t, client.StatusContacted, got.Status)
}

func TestAppointmentStatus_UnknownID(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, deskEmail)

	err := runAppointmentStatus(context.Background(), "missing", "CLOSED", h.opts()...)
	require.Error(t, err)
	assert.NotEmpty(t, h.storedToken(t), "a 404 keeps the credential")
}

func TestSettingsShow(t *testing.T) {
	h := newHarness(t)
	h.api.SetSettings(client.Settings{ClinicName: "Gulf Clinic", AIEnabled: true})

	t.Run("admin is view only", func(t *testing.T) {
		h.signIn(t, deskEmail)
		h.out.Reset()
		require.NoError(t, runSettingsShow(context.Background(), h.opts()...))
		out := h.out.String()
		assert.Contains(t, out, "Gulf Clinic")
		assert.Regexp(t, `aiEnabled:\s+on`, out)
		assert.Regexp(t, `emailEnabled:\s+off`, out)
		assert.Contains(t, out, "View only")
	})

	t.Run("super admin", func(t *testing.T) {
		h.signIn(t, ownerEmail)
		h.out.Reset()
		require.NoError(t, runSettingsShow(context.Background(), h.opts()...))
		assert.NotContains(t, h.out.String(), "View only")
	})
}

func TestSettingsSet(t *testing.T) {
	t.Run("super admin", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, ownerEmail)

		require.NoError(t, runSettingsSet(context.Background(), "EmailEnabled", "on", h.opts()...))
		assert.Contains(t, h.out.String(), "✓ emailEnabled turned on")
		assert.True(t, h.api.CurrentSettings().EmailEnabled)
	})

	t.Run("admin refused locally", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, deskEmail)

		err := runSettingsSet(context.Background(), "aiEnabled", "on", h.opts()...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only super admins")
		assert.Zero(t, h.api.RequestCount(http.MethodPatch, "/admin/settings"))
	})

	t.Run("server refuses", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, ownerEmail)
		h.api.RejectSettingsUpdates(true)

		err := runSettingsSet(context.Background(), "sheetsEnabled", "on", h.opts()...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refused")
		assert.False(t, h.api.CurrentSettings().SheetsEnabled)
	})

	t.Run("bad input", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, ownerEmail)

		require.Error(t, runSettingsSet(context.Background(), "darkMode", "on", h.opts()...))
		require.Error(t, runSettingsSet(context.Background(), "aiEnabled", "maybe", h.opts()...))
		assert.Zero(t, len(h.api.Requests()), "input is checked before any call")
	})
}

func TestRunUse(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer

	require.NoError(t, runUse(&out, "", false))
	assert.Contains(t, out.String(), "(default)")

	out.Reset()
	require.NoError(t, runUse(&out, "https://clinic.example.com/", false))
	assert.Contains(t, out.String(), "✓ Using https://clinic.example.com")

	userCfg, err := userconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://clinic.example.com", userCfg.APIURL)

	out.Reset()
	require.NoError(t, runUse(&out, "", true))
	userCfg, err = userconfig.Load()
	require.NoError(t, err)
	assert.Empty(t, userCfg.APIURL)

	for _, bad := range []string{"clinic.example.com", "ftp://clinic.example.com", "https://"} {
		assert.Error(t, runUse(&out, bad, false), bad)
	}
}

func TestNewEnv_UserConfigSelectsServer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, userconfig.SetAPIURL(h.api.URL))

	opts := []Option{
		WithConfig(&config.Config{API: config.APIConfig{Timeout: time.Second}}),
		WithTokenStore(h.store),
		WithOutput(h.out),
	}
	e, err := newEnv(opts...)
	require.NoError(t, err)
	assert.Equal(t, h.api.URL, e.apiURL)

	e, err = newEnv(append(opts, WithAPIURL("http://flag.test"))...)
	require.NoError(t, err)
	assert.Equal(t, "http://flag.test", e.apiURL)
}

func TestConsoleURL(t *testing.T) {
	h := newHarness(t)
	e, err := newEnv(h.opts()...)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/dashboard", consoleURL(e))

	e, err = newEnv(append(h.opts(), WithListenAddr("localhost:9000"))...)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/dashboard", consoleURL(e))
}
