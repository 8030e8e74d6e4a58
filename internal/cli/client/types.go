package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Role is an administrator role
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Identity is the administrator record the server associates with a credential
type Identity struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  Role   `json:"role" validate:"required,oneof=ADMIN SUPER_ADMIN"`
}

// IsSuperAdmin reports whether the identity may change clinic settings
func (i *Identity) IsSuperAdmin() bool {
	return i != nil && i.Role == RoleSuperAdmin
}

var validate = validator.New()

// Validate checks that the server returned a usable identity
func (i *Identity) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: missing admin", ErrMalformedResponse)
	}
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: invalid admin: %v", ErrMalformedResponse, err)
	}
	return nil
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string    `json:"token"`
	Admin *Identity `json:"admin,omitempty"`
}

// AppointmentStatus is the lifecycle state of an appointment request
type AppointmentStatus string

const (
	StatusNew       AppointmentStatus = "NEW"
	StatusContacted AppointmentStatus = "CONTACTED"
	StatusClosed    AppointmentStatus = "CLOSED"
)

// AppointmentStatuses lists the valid statuses in workflow order
var AppointmentStatuses = []AppointmentStatus{StatusNew, StatusContacted, StatusClosed}

// ParseAppointmentStatus accepts any casing of a valid status
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range AppointmentStatuses {
		if st == valid {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status '%s', must be one of: NEW, CONTACTED, CLOSED", s)
}

// Appointment represents an appointment request
type Appointment struct {
	ID        string            `json:"id"`
	FullName  string            `json:"fullName"`
	Phone     string            `json:"phone"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ListAppointmentsParams filters the appointment list
type ListAppointmentsParams struct {
	Search string
	Status AppointmentStatus
}

// Stats represents the dashboard aggregates
type Stats struct {
	Total          int    `json:"total"`
	NewToday       int    `json:"newToday"`
	AIHandled      int    `json:"aiHandled"`
	ConversionRate string `json:"conversionRate"`
}

// Settings represents the clinic automation settings
type Settings struct {
	ClinicName     string `json:"clinicName"`
	WhatsappNumber string `json:"whatsappNumber"`
	AIEnabled      bool   `json:"aiEnabled"`
	EmailEnabled   bool   `json:"emailEnabled"`
	SheetsEnabled  bool   `json:"sheetsEnabled"`
}

// DefaultSettings mirrors what the console shows before the server answers
func DefaultSettings() Settings {
	return Settings{ClinicName: "Gulf Clinic"}
}

// Setting toggles that may be changed through UpdateSetting
const (
	SettingAI     = "aiEnabled"
	SettingEmail  = "emailEnabled"
	SettingSheets = "sheetsEnabled"
)

// ToggleFields lists the settings that can be switched on or off
var ToggleFields = []string{SettingAI, SettingEmail, SettingSheets}

// ParseToggleField validates a settings toggle name
func ParseToggleField(field string) (string, error) {
	for _, f := range ToggleFields {
		if strings.EqualFold(field, f) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown setting '%s', must be one of: %s", field, strings.Join(ToggleFields, ", "))
}

// Toggle returns the value of a toggle field
func (s Settings) Toggle(field string) bool {
	switch field {
	case SettingAI:
		return s.AIEnabled
	case SettingEmail:
		return s.EmailEnabled
	case SettingSheets:
		return s.SheetsEnabled
	}
	return false
}

// WithToggle returns a copy with the toggle field set to value
func (s Settings) WithToggle(field string, value bool) Settings {
	switch field {
	case SettingAI:
		s.AIEnabled = value
	case SettingEmail:
		s.EmailEnabled = value
	case SettingSheets:
		s.SheetsEnabled = value
	}
	return s
}
