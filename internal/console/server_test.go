package console

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gulfclinic/clinicadmin/internal/apifake"
	"github.com/gulfclinic/clinicadmin/internal/cli/auth"
	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

const (
	ownerEmail = "owner@clinic.test"
	deskEmail  = "desk@clinic.test"
	password   = "s3cret-pass"
)

type testConsole struct {
	api    *apifake.Server
	store  *auth.MemoryStore
	holder *session.Holder
	srv    *Server
}

func newTestConsole(t *testing.T) *testConsole {
	t.Helper()

	api := apifake.NewServer()
	t.Cleanup(api.Close)
	api.AddAdmin(ownerEmail, password, client.RoleSuperAdmin)
	api.AddAdmin(deskEmail, password, client.RoleAdmin)

	store := auth.NewMemoryStore()
	c := client.New(api.URL, store, client.WithTimeout(2*time.Second))
	holder := session.New(c, store, session.WithVerifyTimeout(2*time.Second))
	c.OnUnauthenticated(holder.Rejected)

	srv, err := New(c, holder, zerolog.Nop(), Options{
		AllowedOrigins: []string{"http://localhost:5173"},
		Version:        "test",
	})
	require.NoError(t, err)

	return &testConsole{api: api, store: store, holder: holder, srv: srv}
}

// signIn stores a credential for email and confirms it with the server
func (tc *testConsole) signIn(t *testing.T, email string) string {
	t.Helper()
	token := tc.api.IssueToken(email)
	require.NoError(t, tc.store.SaveToken(token))
	st, err := tc.holder.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, st.Authenticated())
	return token
}

func (tc *testConsole) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	tc.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// post submits a form the way the console's own pages do
func (tc *testConsole) post(path string, form url.Values) *httptest.ResponseRecorder {
	return tc.postWithHeaders(path, form, map[string]string{
		"Origin":         "http://example.com",
		"Sec-Fetch-Site": "same-origin",
	})
}

func (tc *testConsole) postWithHeaders(path string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	tc.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// follow loads the page a redirect points at
func (tc *testConsole) follow(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rec.Code)
	next := tc.get(rec.Header().Get("Location"))
	require.Equal(t, http.StatusOK, next.Code)
	return next.Body.String()
}

func TestGuard_UnknownSessionWaits(t *testing.T) {
	tc := newTestConsole(t)
	require.NoError(t, tc.store.SaveToken(tc.api.IssueToken(ownerEmail)))
	tc.api.InjectFault(http.MethodGet, "/admin/me", apifake.Fault{Delay: 300 * time.Millisecond}, 1)

	rec := tc.get("/dashboard")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Checking your session")
	assert.Contains(t, rec.Body.String(), `http-equiv="refresh"`)
	assert.Empty(t, rec.Header().Get("Location"), "must not redirect before the answer is in")

	// The background check started by the guard settles the session
	require.Eventually(t, func() bool {
		return tc.holder.State().Authenticated()
	}, 2*time.Second, 20*time.Millisecond)

	rec = tc.get("/dashboard")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Total appointments")
}

func TestGuard_NoCredentialRedirectsOnceResolved(t *testing.T) {
	tc := newTestConsole(t)

	_, err := tc.holder.Verify(context.Background())
	require.NoError(t, err)

	rec := tc.get("/appointments?status=NEW")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next="+url.QueryEscape("/appointments?status=NEW"), rec.Header().Get("Location"))
	assert.Zero(t, tc.api.RequestCount(http.MethodGet, "/admin/me"), "no credential, no server check")
}

func TestGuard_TransientFailureKeepsWaiting(t *testing.T) {
	tc := newTestConsole(t)
	token := tc.api.IssueToken(ownerEmail)
	require.NoError(t, tc.store.SaveToken(token))
	tc.api.InjectFault(http.MethodGet, "/admin/me", apifake.Fault{Status: http.StatusServiceUnavailable}, -1)

	rec := tc.post("/session/verify", url.Values{"next": {"/settings"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/settings", rec.Header().Get("Location"))

	rec = tc.get("/settings")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not reach the clinic server")
	assert.Equal(t, session.StatusUnknown, tc.holder.State().Status)

	stored, err := tc.store.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, token, stored, "a server fault must not cost the credential")

	// Once the server recovers, retrying lets the admin in
	require.Eventually(t, func() bool { return !tc.srv.verifying.Load() }, 2*time.Second, 10*time.Millisecond)
	tc.api.ClearFaults()
	tc.post("/session/verify", url.Values{"next": {"/settings"}})
	rec = tc.get("/settings")
	assert.Contains(t, rec.Body.String(), "AI assistant")
}

func TestGuard_RevokedCredentialEndsSession(t *testing.T) {
	tc := newTestConsole(t)
	token := tc.signIn(t, ownerEmail)
	tc.api.Revoke(token)

	rec := tc.get("/appointments")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login"))

	assert.Equal(t, session.StatusUnauthenticated, tc.holder.State().Status)
	_, err := tc.store.LoadToken()
	assert.ErrorIs(t, err, auth.ErrNoCredential)

	rec = tc.get("/dashboard")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestLogin(t *testing.T) {
	tc := newTestConsole(t)

	rec := tc.get("/login")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="password"`)

	rec = tc.post("/login", url.Values{"email": {ownerEmail}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password.")

	rec = tc.post("/login", url.Values{"email": {"nope"}, "password": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tc.post("/login", url.Values{
		"email":    {ownerEmail},
		"password": {password},
		"next":     {"/settings"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/settings", rec.Header().Get("Location"))
	assert.True(t, tc.holder.State().Authenticated())

	// Already signed in: the login page forwards
	rec = tc.get("/login")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	tc := newTestConsole(t)
	token := tc.signIn(t, ownerEmail)

	rec := tc.post("/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	assert.Equal(t, session.StatusUnauthenticated, tc.holder.State().Status)
	assert.Equal(t, 1, tc.api.RequestCount(http.MethodPost, "/admin/logout"))

	rec = tc.get("/dashboard")
	assert.Equal(t, http.StatusFound, rec.Code)

	// The server no longer accepts the old credential either
	require.NoError(t, tc.store.SaveToken(token))
	st, err := tc.holder.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.StatusUnauthenticated, st.Status)
}

func TestDashboard(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, deskEmail)
	tc.api.AddAppointment("Sara Ali", "+97150000001", client.StatusNew, time.Now())
	tc.api.SetAIHandled(7)

	rec := tc.get("/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<strong>7</strong>")
	assert.Contains(t, body, deskEmail)
	assert.Contains(t, body, "(Admin)")
}

func TestDashboard_FallsBackToZeroes(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, deskEmail)
	tc.api.InjectFault(http.MethodGet, "/admin/stats", apifake.Fault{Status: http.StatusInternalServerError}, 1)

	rec := tc.get("/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Could not reach the clinic server")
	assert.Contains(t, body, "<strong>0</strong>")
	assert.Contains(t, body, "<strong>0%</strong>")
	assert.True(t, tc.holder.State().Authenticated(), "a failing page call must not end the session")
}

func TestAppointments(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, deskEmail)
	sara := tc.api.AddAppointment("Sara Ali", "+97150000001", client.StatusNew, time.Now())
	tc.api.AddAppointment("Omar Haddad", "+97150000002", client.StatusClosed, time.Now())

	rec := tc.get("/appointments?search=sara")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sara Ali")
	assert.NotContains(t, rec.Body.String(), "Omar Haddad")

	rec = tc.post("/appointments/"+sara.ID+"/status", url.Values{
		"status": {"CONTACTED"},
		"search": {"sara"},
	})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/appointments", loc.Path)
	assert.Equal(t, "sara", loc.Query().Get("search"))
	assert.Contains(t, tc.follow(t, rec), "Sara Ali marked CONTACTED")

	updated, _ := tc.api.Appointment(sara.ID)
	assert.Equal(t, client.StatusContacted, updated.Status)

	rec = tc.post("/appointments/"+sara.ID+"/status", url.Values{"status": {"LOST"}})
	assert.Contains(t, tc.follow(t, rec), "invalid status")
}

func TestSettings_AdminIsViewOnly(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, deskEmail)

	rec := tc.get("/settings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "View only")
	assert.NotContains(t, rec.Body.String(), `action="/settings/aiEnabled"`)

	rec = tc.post("/settings/aiEnabled", url.Values{"value": {"on"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, tc.api.RequestCount(http.MethodPatch, "/admin/settings"))
}

func TestSettings_SuperAdminToggles(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)

	rec := tc.get("/settings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/settings/aiEnabled"`)

	rec = tc.post("/settings/aiEnabled", url.Values{"value": {"on"}})
	assert.Contains(t, tc.follow(t, rec), "AI assistant turned on.")
	assert.True(t, tc.api.CurrentSettings().AIEnabled)

	cached, err := tc.srv.loadSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, cached.AIEnabled)
}

func TestSettings_RejectedToggleRollsBack(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)
	tc.api.RejectSettingsUpdates(true)

	rec := tc.post("/settings/emailEnabled", url.Values{"value": {"on"}})
	assert.Contains(t, tc.follow(t, rec), "previous value was restored")

	cached, err := tc.srv.loadSettings(context.Background())
	require.NoError(t, err)
	assert.False(t, cached.EmailEnabled)
	assert.False(t, tc.api.CurrentSettings().EmailEnabled)
}

func TestSettings_UnknownField(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)

	rec := tc.post("/settings/darkMode", url.Values{"value": {"on"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionAPI(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	tc.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	var body struct {
		Status   string           `json:"status"`
		Decision string           `json:"decision"`
		Admin    *client.Identity `json:"admin"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authenticated", body.Status)
	assert.Equal(t, "admit", body.Decision)
	require.NotNil(t, body.Admin)
	assert.Equal(t, ownerEmail, body.Admin.Email)
}

func TestHealth(t *testing.T) {
	tc := newTestConsole(t)

	rec := tc.get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session":"unknown"`)
}

func TestNew_RejectsBadOrigin(t *testing.T) {
	_, err := New(nil, nil, zerolog.Nop(), Options{AllowedOrigins: []string{"localhost:5173"}})
	assert.Error(t, err)
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                  "/dashboard",
		"/settings":         "/settings",
		"/appointments?q=1": "/appointments?q=1",
		"https://evil.test": "/dashboard",
		"//evil.test":       "/dashboard",
		"/\\evil.test":      "/dashboard",
		"/login?next=/x":    "/dashboard",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeNext(in), "safeNext(%q)", in)
	}
}

func TestCrossSiteFormsAreRefused(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)
	appt := tc.api.AddAppointment("Sara Ali", "+97150000001", client.StatusNew, time.Now())

	crossSite := map[string]string{
		"Origin":         "https://evil.example",
		"Sec-Fetch-Site": "cross-site",
	}

	rec := tc.postWithHeaders("/settings/aiEnabled", url.Values{"value": {"on"}}, crossSite)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, tc.api.CurrentSettings().AIEnabled)
	assert.Zero(t, tc.api.RequestCount(http.MethodPatch, "/admin/settings"))

	rec = tc.postWithHeaders("/appointments/"+appt.ID+"/status", url.Values{"status": {"CLOSED"}}, crossSite)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	got, _ := tc.api.Appointment(appt.ID)
	assert.Equal(t, client.StatusNew, got.Status)

	rec = tc.postWithHeaders("/logout", nil, crossSite)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, tc.holder.State().Authenticated(), "a foreign page must not sign the admin out")

	rec = tc.postWithHeaders("/login", url.Values{"email": {deskEmail}, "password": {password}}, crossSite)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ownerEmail, tc.holder.State().Identity.Email)
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"fetch metadata same origin", map[string]string{"Sec-Fetch-Site": "same-origin"}, true},
		{"typed by user", map[string]string{"Sec-Fetch-Site": "none"}, true},
		{"same site other port", map[string]string{"Sec-Fetch-Site": "same-site", "Origin": "http://example.com"}, false},
		{"cross site", map[string]string{"Sec-Fetch-Site": "cross-site"}, false},
		{"matching origin", map[string]string{"Origin": "http://example.com"}, true},
		{"foreign origin", map[string]string{"Origin": "https://evil.example"}, false},
		{"opaque origin", map[string]string{"Origin": "null"}, false},
		{"matching referer", map[string]string{"Referer": "http://example.com/settings"}, true},
		{"foreign referer", map[string]string{"Referer": "https://evil.example/x"}, false},
		{"no headers", map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/logout", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, sameOrigin(req))
		})
	}
}

func TestFlashIsShownOnce(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)

	rec := tc.post("/settings/aiEnabled", url.Values{"value": {"on"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	target := rec.Header().Get("Location")
	assert.NotContains(t, target, "turned", "the message text stays on the server")

	assert.Contains(t, tc.get(target).Body.String(), "AI assistant turned on.")
	assert.NotContains(t, tc.get(target).Body.String(), "AI assistant turned on.")
}

func TestCraftedBannersAreIgnored(t *testing.T) {
	tc := newTestConsole(t)
	tc.signIn(t, ownerEmail)

	for _, path := range []string{
		"/settings?notice=Call+support+at+555-0100",
		"/appointments?error=Call+support+at+555-0100",
		"/settings?flash=01ARZ3NDEKTSV4RRFFQ69G5FAV",
	} {
		rec := tc.get(path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "555-0100", path)
		assert.NotContains(t, rec.Body.String(), `class="notice"`, path)
	}
}
