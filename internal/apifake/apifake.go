// Package apifake is an in-memory stand-in for the clinic API contract the
// admin client relies on. Tests start it with NewServer and drive it through
// its setup and fault-injection methods.
package apifake

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/gulfclinic/clinicadmin/internal/auth"
	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

const bearerPrefix = "Bearer "

// Fault replaces the normal response of a route
type Fault struct {
	Status int           // response status, 0 keeps the normal handler
	Body   string        // raw response body
	Delay  time.Duration // wait before answering (or until the client gives up)
}

// Request is a recorded incoming request
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

type admin struct {
	identity client.Identity
	hash     []byte
}

type fault struct {
	Fault
	remaining int // <0 means forever
}

// Server is a running fake clinic API
type Server struct {
	*httptest.Server

	router *gin.Engine
	tokens *auth.Issuer

	mu             sync.Mutex
	admins         map[string]*admin // by email
	revoked        map[string]struct{}
	appointments   map[string]*client.Appointment
	settings       client.Settings
	aiHandled      int
	rejectSettings bool
	faults         map[string]*fault
	requests       []Request
	tokenTTL       time.Duration
}

// NewServer starts a fake API on a loopback port
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewIssuer([]byte(ulid.Make().String()))
	if err != nil {
		panic(fmt.Sprintf("apifake: %v", err))
	}

	s := &Server{
		tokens:       issuer,
		admins:       make(map[string]*admin),
		revoked:      make(map[string]struct{}),
		appointments: make(map[string]*client.Appointment),
		settings:     client.DefaultSettings(),
		faults:       make(map[string]*fault),
		tokenTTL:     time.Hour,
	}
	s.setupRouter()
	s.Server = httptest.NewServer(s.router)
	return s
}

func (s *Server) setupRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.recordMiddleware())
	s.router.Use(s.faultMiddleware())

	s.router.POST("/admin/login", s.login)

	api := s.router.Group("/admin")
	api.Use(s.authMiddleware())
	{
		api.GET("/me", s.me)
		api.POST("/logout", s.logout)
		api.GET("/stats", s.stats)
		api.GET("/appointments", s.listAppointments)
		api.PATCH("/appointments/:id", s.updateAppointment)
		api.GET("/settings", s.getSettings)
		api.PATCH("/settings", s.updateSettings)
	}
}

// AddAdmin registers an administrator and returns its identity
func (s *Server) AddAdmin(email, password string, role client.Role) client.Identity {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("apifake: hashing password: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := client.Identity{ID: ulid.Make().String(), Email: email, Role: role}
	s.admins[strings.ToLower(email)] = &admin{identity: id, hash: hash}
	return id
}

// IssueToken mints a valid credential for a registered admin without a login request
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	a, ok := s.admins[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		panic("apifake: unknown admin " + email)
	}
	token, err := s.sign(a.identity)
	if err != nil {
		panic(fmt.Sprintf("apifake: signing token: %v", err))
	}
	return token
}

// Revoke makes the server reject token from now on
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = struct{}{}
}

// SetTokenTTL changes the lifetime of newly issued tokens
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// AddAppointment stores an appointment and returns it with its generated id
func (s *Server) AddAppointment(fullName, phone string, status client.AppointmentStatus, createdAt time.Time) client.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &client.Appointment{
		ID:        ulid.Make().String(),
		FullName:  fullName,
		Phone:     phone,
		Status:    status,
		CreatedAt: createdAt.UTC(),
	}
	s.appointments[a.ID] = a
	return *a
}

// Appointment returns the stored appointment with id
func (s *Server) Appointment(id string) (client.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return client.Appointment{}, false
	}
	return *a, true
}

// SetAIHandled sets the number of appointments booked by the AI agent
func (s *Server) SetAIHandled(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiHandled = n
}

// SetSettings replaces the clinic settings
func (s *Server) SetSettings(settings client.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// CurrentSettings returns the clinic settings as stored
func (s *Server) CurrentSettings() client.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// RejectSettingsUpdates makes PATCH /admin/settings answer {"success": false}
func (s *Server) RejectSettingsUpdates(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSettings = reject
}

// InjectFault makes the next times requests to "METHOD /path" return f.
// times < 0 keeps the fault until ClearFaults.
func (s *Server) InjectFault(method, path string, f Fault, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+path] = &fault{Fault: f, remaining: times}
}

// ClearFaults removes every injected fault
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
}

// Requests returns the requests received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestCount returns how many requests hit "METHOD /path"
func (s *Server) RequestCount(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) recordMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			Query:         c.Request.URL.RawQuery,
			Authorization: c.GetHeader("Authorization"),
			RequestID:     c.GetHeader("X-Request-ID"),
		})
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) faultMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.Request.URL.Path

		s.mu.Lock()
		f, ok := s.faults[key]
		var active Fault
		if ok {
			active = f.Fault
			if f.remaining > 0 {
				f.remaining--
				if f.remaining == 0 {
					delete(s.faults, key)
				}
			}
		}
		s.mu.Unlock()

		if !ok {
			c.Next()
			return
		}

		if active.Delay > 0 {
			select {
			case <-time.After(active.Delay):
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}

		if active.Status == 0 {
			c.Next()
			return
		}
		c.Data(active.Status, "application/json", []byte(active.Body))
		c.Abort()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			unauthorized(c, "Missing authorization header")
			return
		}
		token := strings.TrimPrefix(header, bearerPrefix)

		s.mu.Lock()
		_, revoked := s.revoked[token]
		s.mu.Unlock()
		if revoked {
			unauthorized(c, "Session expired")
			return
		}

		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		a := s.adminByID(claims.Subject)
		if a == nil {
			unauthorized(c, "Admin not found")
			return
		}

		c.Set("admin", a.identity)
		c.Set("token", token)
		c.Next()
	}
}

func (s *Server) adminByID(id string) *admin {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.admins {
		if a.identity.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) sign(id client.Identity) (string, error) {
	s.mu.Lock()
	ttl := s.tokenTTL
	s.mu.Unlock()

	return s.tokens.GenerateToken(id.ID, id.Email, string(id.Role), ttl)
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
}

func currentAdmin(c *gin.Context) client.Identity {
	v, _ := c.Get("admin")
	id, _ := v.(client.Identity)
	return id
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	s.mu.Lock()
	a, ok := s.admins[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid email or password"})
		return
	}

	token, err := s.sign(a.identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "admin": a.identity})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "admin": currentAdmin(c)})
}

func (s *Server) logout(c *gin.Context) {
	token := c.GetString("token")
	s.Revoke(token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) stats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var total, newToday, closed int
	for _, a := range s.appointments {
		total++
		if created := a.CreatedAt.UTC(); created.Year() == now.Year() && created.YearDay() == now.YearDay() {
			newToday++
		}
		if a.Status == client.StatusClosed {
			closed++
		}
	}

	rate := "0%"
	if total > 0 {
		rate = fmt.Sprintf("%d%%", closed*100/total)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": client.Stats{
		Total:          total,
		NewToday:       newToday,
		AIHandled:      s.aiHandled,
		ConversionRate: rate,
	}})
}

func (s *Server) listAppointments(c *gin.Context) {
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))
	status := client.AppointmentStatus(strings.ToUpper(c.Query("status")))

	s.mu.Lock()
	out := make([]client.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		if status != "" && a.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.FullName), search) &&
			!strings.Contains(a.Phone, search) {
			continue
		}
		out = append(out, *a)
	}
	s.mu.Unlock()

	// Newest first
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

type updateAppointmentRequest struct {
	Status string `json:"status" binding:"required,oneof=NEW CONTACTED CLOSED"`
}

func (s *Server) updateAppointment(c *gin.Context) {
	var req updateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Appointment not found"})
		return
	}
	a.Status = client.AppointmentStatus(req.Status)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": *a})
}

func (s *Server) getSettings(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.settings})
}

func (s *Server) updateSettings(c *gin.Context) {
	if currentAdmin(c).Role != client.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Super admin access required"})
		return
	}

	var req map[string]bool
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectSettings {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Setting is locked"})
		return
	}
	for field, value := range req {
		name, err := client.ParseToggleField(field)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		s.settings = s.settings.WithToggle(name, value)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.settings})
}
