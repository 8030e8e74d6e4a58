package console

import (
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("02 Jan 2006 15:04")
	},
	"statusClass": func(s client.AppointmentStatus) string {
		return "status-" + strings.ToLower(string(s))
	},
	"roleLabel": func(r client.Role) string {
		if r == client.RoleSuperAdmin {
			return "Super admin"
		}
		return "Admin"
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
