package console

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

const (
	identityKey     = "admin"
	defaultLanding  = "/dashboard"
	loginPath       = "/login"
	waitingTemplate = "waiting.html"
)

func setIdentity(c *gin.Context, id *client.Identity) {
	c.Set(identityKey, id)
}

// currentAdmin returns the identity admitted by the guard, nil on public pages
func currentAdmin(c *gin.Context) *client.Identity {
	v, exists := c.Get(identityKey)
	if !exists {
		return nil
	}
	id, _ := v.(*client.Identity)
	return id
}

// guardMiddleware admits a request only for a confirmed admin. While the
// session is unknown it renders a waiting page and starts a verification;
// it never sends the user to the login page before the answer is in.
func (s *Server) guardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := s.session.State()
		decision := session.Decide(st)
		guardDecisions.WithLabelValues(decision.String()).Inc()

		switch decision {
		case session.Admit:
			setIdentity(c, st.Identity)
			c.Next()

		case session.Redirect:
			s.redirectToLogin(c)

		default:
			s.startVerify()
			next := defaultLanding
			if c.Request.Method == http.MethodGet {
				next = safeNext(c.Request.URL.RequestURI())
			}
			p := page{
				Title:   "Checking session",
				Refresh: 2,
				Data:    waitingView{Next: next},
			}
			if err := s.lastError(); err != nil {
				p.Error = "Could not reach the clinic server. Your session is kept; retry when the connection is back."
			}
			s.render(c, http.StatusOK, waitingTemplate, p)
			c.Abort()
		}
	}
}

// sameOriginMiddleware refuses state-changing requests sent by other sites.
// The console acts with the shared stored credential, so a form posted from
// any page the admin visits would otherwise run with the admin's rights.
func (s *Server) sameOriginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if sameOrigin(c.Request) {
			c.Next()
			return
		}

		crossSiteRejections.Inc()
		s.logger.Warn().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("origin", c.GetHeader("Origin")).
			Str("sec_fetch_site", c.GetHeader("Sec-Fetch-Site")).
			Msg("Refused cross-site request")
		s.render(c, http.StatusForbidden, "error.html", page{
			Title: "Not allowed",
			Error: "This request did not come from the console and was refused.",
		})
		c.Abort()
	}
}

// sameOrigin trusts Sec-Fetch-Site when the browser sends it and otherwise
// requires Origin, or Referer, to name the host the request was sent to
func sameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return true
	case "":
	default:
		return false
	}

	source := r.Header.Get("Origin")
	if source == "" {
		source = r.Header.Get("Referer")
	}
	if source == "" || source == "null" {
		return false
	}

	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// redirectToLogin sends the browser to the login page, remembering where it
// was heading for GET requests
func (s *Server) redirectToLogin(c *gin.Context) {
	target := loginPath
	if c.Request.Method == http.MethodGet {
		if next := safeNext(c.Request.URL.RequestURI()); next != defaultLanding {
			target += "?next=" + url.QueryEscape(next)
		}
	}
	c.Redirect(redirectStatus(c), target)
	c.Abort()
}

// redirectStatus turns form posts into GETs on the target
func redirectStatus(c *gin.Context) int {
	if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

// safeNext keeps post-login redirects on this site
func safeNext(next string) string {
	if next == "" ||
		!strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") ||
		strings.HasPrefix(next, "/\\") ||
		strings.HasPrefix(next, loginPath) {
		return defaultLanding
	}
	return next
}
