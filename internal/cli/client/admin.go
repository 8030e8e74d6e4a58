package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Login authenticates the administrator and returns the issued token. The
// request never carries the stored credential, so a 401 here means bad
// email/password and does not evict anything.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	reqBody := LoginRequest{
		Email:    email,
		Password: password,
	}
	if err := validate.Struct(reqBody); err != nil {
		return nil, fmt.Errorf("invalid login request: %w", err)
	}

	var loginResp struct {
		envelope
		LoginResponse
	}
	if err := c.do(ctx, http.MethodPost, "/admin/login", nil, reqBody, &loginResp, withoutCredential()); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if err := loginResp.check(); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if loginResp.Token == "" {
		return nil, fmt.Errorf("login failed: %w: no token in response", ErrMalformedResponse)
	}

	return &loginResp.LoginResponse, nil
}

// Session asks the server whether a credential still denotes a valid session
// and returns the associated identity. An empty token means the stored one.
func (c *Client) Session(ctx context.Context, token string) (*Identity, error) {
	var opts []requestOption
	if token != "" {
		opts = append(opts, withCredential(token))
	}

	var sessionResp struct {
		envelope
		Admin *Identity `json:"admin"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/me", nil, nil, &sessionResp, opts...); err != nil {
		return nil, err
	}
	if err := sessionResp.check(); err != nil {
		return nil, err
	}
	if err := sessionResp.Admin.Validate(); err != nil {
		return nil, err
	}
	return sessionResp.Admin, nil
}

// Logout tells the server the given credential is no longer in use
func (c *Client) Logout(ctx context.Context, token string) error {
	opt := withCredential(token)
	if token == "" {
		opt = withoutCredential()
	}
	if err := c.do(ctx, http.MethodPost, "/admin/logout", nil, nil, nil, opt); err != nil {
		return fmt.Errorf("failed to notify logout: %w", err)
	}
	return nil
}

// Stats returns the dashboard aggregates
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var statsResp struct {
		envelope
		Stats *Stats `json:"stats"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/stats", nil, nil, &statsResp); err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	if err := statsResp.check(); err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	if statsResp.Stats == nil {
		return nil, fmt.Errorf("failed to load stats: %w: missing stats", ErrMalformedResponse)
	}
	return statsResp.Stats, nil
}

// ListAppointments returns appointment requests matching the filter
func (c *Client) ListAppointments(ctx context.Context, params ListAppointmentsParams) ([]Appointment, error) {
	query := url.Values{}
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}

	var listResp struct {
		envelope
		Data []Appointment `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/appointments", query, nil, &listResp); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	if err := listResp.check(); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	if listResp.Data == nil {
		return []Appointment{}, nil
	}
	return listResp.Data, nil
}

// UpdateAppointmentStatus moves an appointment to a new status
func (c *Client) UpdateAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error) {
	if id == "" {
		return nil, fmt.Errorf("appointment id is required")
	}
	if _, err := ParseAppointmentStatus(string(status)); err != nil {
		return nil, err
	}

	reqBody := map[string]AppointmentStatus{"status": status}

	var updateResp struct {
		envelope
		Data *Appointment `json:"data"`
	}
	path := "/admin/appointments/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, nil, reqBody, &updateResp); err != nil {
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}
	if err := updateResp.check(); err != nil {
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}
	return updateResp.Data, nil
}

// Settings returns the clinic automation settings
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	var settingsResp struct {
		envelope
		Data     *Settings `json:"data"`
		Settings *Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/settings", nil, nil, &settingsResp); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := settingsResp.check(); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// Both shapes are seen in the wild
	switch {
	case settingsResp.Data != nil:
		return settingsResp.Data, nil
	case settingsResp.Settings != nil:
		return settingsResp.Settings, nil
	}
	return nil, fmt.Errorf("failed to load settings: %w: missing settings", ErrMalformedResponse)
}

// UpdateSetting switches one automation toggle. A {"success": false} answer
// is returned as ErrRejected so callers can roll back.
func (c *Client) UpdateSetting(ctx context.Context, field string, value bool) (*Settings, error) {
	field, err := ParseToggleField(field)
	if err != nil {
		return nil, err
	}

	var updateResp struct {
		envelope
		Data *Settings `json:"data"`
	}
	if err := c.do(ctx, http.MethodPatch, "/admin/settings", nil, map[string]bool{field: value}, &updateResp); err != nil {
		return nil, fmt.Errorf("failed to update setting: %w", err)
	}
	if updateResp.Success == nil {
		return nil, fmt.Errorf("failed to update setting: %w: missing success flag", ErrMalformedResponse)
	}
	if err := updateResp.check(); err != nil {
		return nil, fmt.Errorf("failed to update setting: %w", err)
	}
	return updateResp.Data, nil
}
