// views.go -- Embedded HTML templates for the auth pages.
package auth

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/MGallo-Code/gatekeep/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names accepted by Views.Render.
const (
	pageIndex    = "index"
	pageLogin    = "login"
	pageRegister = "register"
	pageProfile  = "profile"
	pageError    = "error"
)

// PageData is the data every template receives.
type PageData struct {
	Title          string
	User           *AuthenticatedUser
	Flashes        []Flash
	CSRFToken      string
	Next           string // safe local redirect target carried through the login form
	Email          string // prefill after a failed submit
	Message        string // error page body
	OAuthProviders []OAuthProvider
	CaptchaSiteKey string             // set when the page's form requires a CAPTCHA
	Activity       []store.AuditEntry // profile page only
}

// Views holds one parsed template set per page, each sharing the layout.
type Views struct {
	pages map[string]*template.Template
}

// NewViews parses the embedded templates. Fails at startup on a template error.
func NewViews() (*Views, error) {
	v := &Views{pages: make(map[string]*template.Template)}
	for _, page := range []string{pageIndex, pageLogin, pageRegister, pageProfile, pageError} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", page, err)
		}
		v.pages[page] = t
	}
	return v, nil
}

// Render executes page into w. Callers writing to a ResponseWriter should
// render into a buffer first so a template error can still become a 500.
func (v *Views) Render(w io.Writer, page string, data PageData) error {
	t, ok := v.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("rendering %s: %w", page, err)
	}
	return nil
}
