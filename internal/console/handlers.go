package console

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

const (
	statsKey    = "stats"
	settingsKey = "settings"
)

// page is the data every template receives
type page struct {
	Title   string
	Admin   *client.Identity
	Error   string
	Notice  string
	Version string
	Refresh int // seconds, 0 disables
	Data    any
}

// flash is a one-shot banner carried across a redirect. Only its id travels
// in the URL; the text stays on the server.
type flash struct {
	Error  string
	Notice string
}

type loginView struct {
	Email string
	Next  string
}

type waitingView struct {
	Next string
}

type dashboardView struct {
	Stats client.Stats
}

type appointmentsView struct {
	Appointments []client.Appointment
	Search       string
	Status       string
	Statuses     []client.AppointmentStatus
}

type toggleView struct {
	Field   string
	Label   string
	Enabled bool
}

type settingsView struct {
	Settings client.Settings
	Toggles  []toggleView
	CanEdit  bool
}

var toggleLabels = map[string]string{
	client.SettingAI:     "AI assistant",
	client.SettingEmail:  "Email notifications",
	client.SettingSheets: "Google Sheets sync",
}

// setFlash stores f and adds its id to the redirect query
func (s *Server) setFlash(back url.Values, f flash) {
	id := ulid.Make().String()
	s.flashes.Set(id, f, cache.DefaultExpiration)
	back.Set("flash", id)
}

// takeFlash returns and forgets the flash named by the request, if any
func (s *Server) takeFlash(c *gin.Context) flash {
	id := c.Query("flash")
	if id == "" {
		return flash{}
	}
	v, ok := s.flashes.Get(id)
	if !ok {
		return flash{}
	}
	s.flashes.Delete(id)
	return v.(flash)
}

func (s *Server) render(c *gin.Context, status int, name string, p page) {
	if p.Admin == nil {
		p.Admin = currentAdmin(c)
	}
	p.Version = s.opts.Version
	c.HTML(status, name, p)
}

// requestContext bounds an upstream call by the page request
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), verifyTimeout)
}

// upstreamMessage turns an API failure into something an admin can act on
func upstreamMessage(err error) string {
	switch {
	case client.IsTransient(err):
		return "Could not reach the clinic server. Please try again."
	case errors.Is(err, client.ErrRejected):
		return "The clinic server refused the request."
	case errors.Is(err, client.ErrMalformedResponse):
		return "The clinic server sent an unexpected answer."
	default:
		return err.Error()
	}
}

func (s *Server) loginPage(c *gin.Context) {
	next := safeNext(c.Query("next"))
	if session.Decide(s.session.State()) == session.Admit {
		c.Redirect(http.StatusFound, next)
		return
	}
	s.render(c, http.StatusOK, "login.html", page{
		Title: "Sign in",
		Data:  loginView{Next: next},
	})
}

func (s *Server) login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	next := safeNext(c.PostForm("next"))

	ctx, cancel := requestContext(c)
	defer cancel()

	if _, err := s.session.Login(ctx, email, password); err != nil {
		status, msg := loginFailure(err)
		s.logger.Info().Err(err).Str("email", email).Msg("Console login failed")
		s.render(c, status, "login.html", page{
			Title: "Sign in",
			Error: msg,
			Data:  loginView{Email: email, Next: next},
		})
		return
	}

	s.cache.Flush()
	c.Redirect(http.StatusSeeOther, next)
}

func loginFailure(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "Enter a valid email address and password."
	case client.IsUnauthenticated(err):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, session.ErrNotConfirmed):
		return http.StatusBadGateway, "The clinic server did not confirm your session. Please try again."
	case client.IsTransient(err):
		return http.StatusBadGateway, "Could not reach the clinic server. Please try again."
	default:
		return http.StatusBadGateway, "Login failed: " + err.Error()
	}
}

func (s *Server) logout(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.session.Logout(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear stored credential")
	}
	s.cache.Flush()
	c.Redirect(http.StatusSeeOther, loginPath)
}

// verifySession is the retry action of the waiting page
func (s *Server) verifySession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	_, err := s.session.Verify(ctx)
	s.setLastError(err)
	c.Redirect(http.StatusSeeOther, safeNext(c.PostForm("next")))
}

// sessionStatus reports the session to browser clients. Polling it while
// the status is unknown drives a verification.
func (s *Server) sessionStatus(c *gin.Context) {
	st := s.session.State()
	if st.Status == session.StatusUnknown {
		s.startVerify()
	}

	resp := gin.H{
		"status":   st.Status.String(),
		"decision": session.Decide(st).String(),
	}
	if st.Authenticated() {
		resp["admin"] = st.Identity
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) dashboard(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	p := page{Title: "Dashboard"}
	view := dashboardView{Stats: client.Stats{ConversionRate: "0%"}}

	stats, err := s.loadStats(ctx)
	switch {
	case client.IsUnauthenticated(err):
		s.redirectToLogin(c)
		return
	case err != nil:
		s.logger.Warn().Err(err).Msg("Failed to load dashboard stats")
		p.Error = upstreamMessage(err)
	default:
		view.Stats = *stats
		if view.Stats.ConversionRate == "" {
			view.Stats.ConversionRate = "0%"
		}
	}

	p.Data = view
	s.render(c, http.StatusOK, "dashboard.html", p)
}

func (s *Server) loadStats(ctx context.Context) (*client.Stats, error) {
	if v, ok := s.cache.Get(statsKey); ok {
		st := v.(client.Stats)
		return &st, nil
	}
	stats, err := s.api.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(statsKey, *stats, statsTTL)
	return stats, nil
}

func (s *Server) appointments(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	view := appointmentsView{
		Search:   strings.TrimSpace(c.Query("search")),
		Statuses: client.AppointmentStatuses,
	}
	f := s.takeFlash(c)
	p := page{
		Title:  "Appointments",
		Error:  f.Error,
		Notice: f.Notice,
	}

	params := client.ListAppointmentsParams{Search: view.Search}
	if raw := c.Query("status"); raw != "" {
		status, err := client.ParseAppointmentStatus(raw)
		if err != nil {
			p.Error = err.Error()
		} else {
			params.Status = status
			view.Status = string(status)
		}
	}

	list, err := s.api.ListAppointments(ctx, params)
	switch {
	case client.IsUnauthenticated(err):
		s.redirectToLogin(c)
		return
	case err != nil:
		s.logger.Warn().Err(err).Msg("Failed to list appointments")
		p.Error = upstreamMessage(err)
	default:
		view.Appointments = list
	}

	p.Data = view
	s.render(c, http.StatusOK, "appointments.html", p)
}

func (s *Server) updateAppointmentStatus(c *gin.Context) {
	back := url.Values{}
	if v := c.PostForm("search"); v != "" {
		back.Set("search", v)
	}
	if v := c.PostForm("filter"); v != "" {
		back.Set("status", v)
	}

	status, err := client.ParseAppointmentStatus(c.PostForm("status"))
	if err != nil {
		s.setFlash(back, flash{Error: err.Error()})
		c.Redirect(http.StatusSeeOther, "/appointments?"+back.Encode())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	updated, err := s.api.UpdateAppointmentStatus(ctx, c.Param("id"), status)
	switch {
	case client.IsUnauthenticated(err):
		s.redirectToLogin(c)
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("appointment_id", c.Param("id")).Msg("Failed to update appointment")
		s.setFlash(back, flash{Error: upstreamMessage(err)})
	default:
		s.cache.Delete(statsKey)
		name := c.Param("id")
		if updated != nil && updated.FullName != "" {
			name = updated.FullName
		}
		s.setFlash(back, flash{Notice: name + " marked " + string(status)})
	}

	c.Redirect(http.StatusSeeOther, "/appointments?"+back.Encode())
}

func (s *Server) settingsPage(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	admin := currentAdmin(c)
	f := s.takeFlash(c)
	p := page{
		Title:  "Settings",
		Error:  f.Error,
		Notice: f.Notice,
	}

	settings, err := s.loadSettings(ctx)
	switch {
	case client.IsUnauthenticated(err):
		s.redirectToLogin(c)
		return
	case err != nil:
		s.logger.Warn().Err(err).Msg("Failed to load settings")
		p.Error = upstreamMessage(err)
		settings = client.DefaultSettings()
	}

	view := settingsView{Settings: settings, CanEdit: admin.IsSuperAdmin()}
	for _, field := range client.ToggleFields {
		view.Toggles = append(view.Toggles, toggleView{
			Field:   field,
			Label:   toggleLabels[field],
			Enabled: settings.Toggle(field),
		})
	}

	p.Data = view
	s.render(c, http.StatusOK, "settings.html", p)
}

func (s *Server) loadSettings(ctx context.Context) (client.Settings, error) {
	if v, ok := s.cache.Get(settingsKey); ok {
		return v.(client.Settings), nil
	}
	settings, err := s.api.Settings(ctx)
	if err != nil {
		return client.Settings{}, err
	}
	s.cache.Set(settingsKey, *settings, settingsTTL)
	return *settings, nil
}

// toggleSetting applies the change to the cached settings first and
// restores the previous value if the server does not accept it
func (s *Server) toggleSetting(c *gin.Context) {
	if !currentAdmin(c).IsSuperAdmin() {
		s.render(c, http.StatusForbidden, "error.html", page{
			Title: "Not allowed",
			Error: "Only super admins can change clinic settings.",
		})
		return
	}

	field, err := client.ParseToggleField(c.Param("field"))
	if err != nil {
		s.render(c, http.StatusBadRequest, "error.html", page{Title: "Unknown setting", Error: err.Error()})
		return
	}
	value := c.PostForm("value") == "on"

	ctx, cancel := requestContext(c)
	defer cancel()

	s.settings.Lock()
	defer s.settings.Unlock()

	prev, err := s.loadSettings(ctx)
	if client.IsUnauthenticated(err) {
		s.redirectToLogin(c)
		return
	}
	if err != nil {
		s.redirectSettings(c, flash{Error: upstreamMessage(err)})
		return
	}

	s.cache.Set(settingsKey, prev.WithToggle(field, value), settingsTTL)

	updated, err := s.api.UpdateSetting(ctx, field, value)
	if err != nil {
		s.cache.Set(settingsKey, prev, settingsTTL)
		settingRollbacks.Inc()
		s.logger.Warn().Err(err).Str("field", field).Bool("value", value).Msg("Setting change rolled back")

		if client.IsUnauthenticated(err) {
			s.redirectToLogin(c)
			return
		}
		s.redirectSettings(c, flash{
			Error: "Could not change " + toggleLabels[field] + ": " + upstreamMessage(err) + " The previous value was restored.",
		})
		return
	}

	if updated != nil {
		s.cache.Set(settingsKey, *updated, settingsTTL)
	}
	state := "off"
	if value {
		state = "on"
	}
	s.redirectSettings(c, flash{Notice: toggleLabels[field] + " turned " + state + "."})
}

func (s *Server) redirectSettings(c *gin.Context, f flash) {
	back := url.Values{}
	s.setFlash(back, f)
	c.Redirect(http.StatusSeeOther, "/settings?"+back.Encode())
}
