// Package ngbstest provides an in-process fake of the NGBS portal.
package ngbstest

import (
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	yaml "gopkg.in/yaml.v2"
)

//go:embed testdata/portal.yml
var defaultFixture []byte

// Fixture describes the account and devices served by a Portal.
type Fixture struct {
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Token    string            `yaml:"token"`
	Serials  []string          `yaml:"serials"`
	Devices  map[string]string `yaml:"devices"`
}

// DefaultFixture returns the bundled two-device fixture.
func DefaultFixture() *Fixture {
	f, err := parseFixture(defaultFixture)
	if err != nil {
		panic(err)
	}
	return f
}

// LoadFixture reads a fixture from a YAML file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Fixture files are controlled by developer
	if err != nil {
		return nil, err
	}
	return parseFixture(data)
}

func parseFixture(data []byte) (*Fixture, error) {
	f := &Fixture{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("invalid portal fixture: %w", err)
	}
	for _, serial := range f.Serials {
		if _, ok := f.Devices[serial]; !ok {
			return nil, fmt.Errorf("invalid portal fixture: serial %s has no device", serial)
		}
	}
	return f, nil
}

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>enzoldhazam.hu</title></head>
<body>
<form method="post" action="/">
<input type="text" name="username">
<input type="password" name="password">
<input type="text" name="x-email" style="display:none">
<input type="hidden" name="token" value="{{.}}">
<input type="submit" value="Belépés">
</form>
</body>
</html>
`))

// Portal mimics the login flow and Ax endpoints of the NGBS portal.
// Unauthenticated Ax requests get the login page, like the real site.
type Portal struct {
	fixture *Fixture

	mu        sync.Mutex
	sessions  map[string]bool
	logins    []url.Values
	requests  []string
	listAsMap bool
}

// NewPortal returns a Portal serving f.
func NewPortal(f *Fixture) *Portal {
	return &Portal{
		fixture:   f,
		sessions:  map[string]bool{},
		listAsMap: true,
	}
}

// ListAsArray makes iconList return ICONS as a JSON array instead of an
// object keyed by serial.
func (p *Portal) ListAsArray() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listAsMap = false
}

// Logins returns the login forms posted so far.
func (p *Portal) Logins() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.logins...)
}

// Requests returns "METHOD path?query" for every request served so far.
func (p *Portal) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, r.Method+" "+r.URL.RequestURI())
	p.mu.Unlock()

	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		p.newSession(w)
		p.serveLoginPage(w)
	case r.URL.Path == "/" && r.Method == http.MethodPost:
		p.handleLogin(w, r)
	case r.URL.Path == "/Ax":
		if !p.authenticated(r) {
			p.newSession(w)
			p.serveLoginPage(w)
			return
		}
		p.handleAx(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (p *Portal) newSession(w http.ResponseWriter) {
	id := uuid.NewString()
	p.mu.Lock()
	p.sessions[id] = false
	p.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: id, Path: "/"})
}

func (p *Portal) serveLoginPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPage.Execute(w, p.fixture.Token)
}

func (p *Portal) session(r *http.Request) (string, bool) {
	cookie, err := r.Cookie("PHPSESSID")
	if err != nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[cookie.Value]
	return cookie.Value, ok
}

func (p *Portal) authenticated(r *http.Request) bool {
	id, ok := p.session(r)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id]
}

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.logins = append(p.logins, r.PostForm)
	p.mu.Unlock()

	id, ok := p.session(r)
	if ok &&
		r.PostForm.Get("token") == p.fixture.Token &&
		r.PostForm.Get("username") == p.fixture.Username &&
		r.PostForm.Get("password") == p.fixture.Password {
		p.mu.Lock()
		p.sessions[id] = true
		p.mu.Unlock()
	}
	// The real portal answers 200 with an HTML page either way.
	p.serveLoginPage(w)
}

func (p *Portal) handleAx(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Query().Get("action") {
	case "iconList":
		_, _ = w.Write([]byte(p.iconList()))
	case "iconByID":
		doc, ok := p.fixture.Devices[r.URL.Query().Get("serial")]
		if !ok {
			http.Error(w, `{"error":"unknown serial"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(doc))
	default:
		http.Error(w, `{"error":"unknown action"}`, http.StatusBadRequest)
	}
}

func (p *Portal) iconList() string {
	p.mu.Lock()
	asMap := p.listAsMap
	p.mu.Unlock()

	entries := make([]string, 0, len(p.fixture.Serials))
	for _, serial := range p.fixture.Serials {
		if asMap {
			entries = append(entries, fmt.Sprintf(`%s:{"SERIAL":%s}`, strconv.Quote(serial), strconv.Quote(serial)))
		} else {
			entries = append(entries, strconv.Quote(serial))
		}
	}
	if asMap {
		return `{"ICONS":{` + strings.Join(entries, ",") + `}}`
	}
	return `{"ICONS":[` + strings.Join(entries, ",") + `]}`
}
