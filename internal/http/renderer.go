package httpx

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/agromarket/marketgate/internal/util"
)

//go:embed views
var viewsFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names, one per file under views/pages.
const (
	PageSignIn = "signin"
	PageSignUp = "signup"
	PageArea   = "area"
	PageError  = "error"
)

// PageData is what every page template receives.
type PageData struct {
	Title         string
	Path          string
	Area          string
	Authenticated bool
	Role          string
	Home          string
	ExpiresAt     time.Time
	RequestID     string

	// Sign-in form.
	Email       string
	RedirectURI string
	Error       string

	// Error pages.
	Status  int
	Message string
}

// TemplateRenderer renders HTML pages: one template set per page, each a
// clone of the shared layout.
type TemplateRenderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	// TemplateFS must contain layout.tmpl and pages/*.tmpl. Defaults to the embedded views.
	TemplateFS fs.FS
	Logger     *slog.Logger
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"rfc3339": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	},
	"remaining": func(t time.Time) string {
		return util.FormatRemaining(t, time.Now())
	},
}

// NewTemplateRenderer parses the layout and every page.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	fsys := cfg.TemplateFS
	if fsys == nil {
		sub, err := fs.Sub(viewsFS, "views")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	layout, err := template.New("layout.tmpl").Funcs(templateFuncs).ParseFS(fsys, "layout.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(fsys, "pages/*.tmpl")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		t, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(fsys, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(path.Base(file), ".tmpl")] = t
	}
	return &TemplateRenderer{pages: pages, logger: logger}, nil
}

// Render writes page with status. Execution happens into a buffer so a
// template error still produces a clean 500.
func (r *TemplateRenderer) Render(w http.ResponseWriter, req *http.Request, status int, page string, data PageData) {
	t, ok := r.pages[page]
	if !ok {
		r.logger.ErrorContext(req.Context(), "unknown page template", slog.String("page", page))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if data.RequestID == "" {
		data.RequestID = RequestIDFromContext(req.Context())
	}
	if data.Path == "" {
		data.Path = req.URL.Path
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.ErrorContext(req.Context(), "template execution failed",
			slog.String("page", page),
			slog.Any("error", err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// StaticHandler serves the embedded /static/ tree.
func StaticHandler() http.Handler {
	return http.FileServerFS(staticFS)
}
