package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/medcase/internal/assessment"
	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/ops"
	"github.com/hpungsan/medcase/internal/stage"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "home", "completed", "login", "register"
	User    *ops.UserOutput
}

// HomePageData is the template data for the landing page.
type HomePageData struct {
	PageData
	Features    []string
	Sample      *clinical.CaseSummary
	SampleStage string
	Cases       []clinical.CaseSummary
}

// AuthPageData is the template data for the login and register forms.
type AuthPageData struct {
	PageData
	Next     string
	Username string
	Error    string
}

// StepLink is one entry of the stage navigation bar.
type StepLink struct {
	Name    string
	Label   string
	Done    bool
	Current bool
}

// TurnView is one rendered chat message.
type TurnView struct {
	Role string
	Text string
	HTML template.HTML
}

// StagePageData is the template data for a conversational stage.
type StagePageData struct {
	PageData
	Case        *clinical.Case
	ContentHTML template.HTML
	Stage       string
	StageLabel  string
	Steps       []StepLink
	Turns       []TurnView
	Completed   bool
	PrevStage   string
	NextStage   string
}

// TranscriptSection is one stage of a finished conversation.
type TranscriptSection struct {
	Label string
	Turns []TurnView
}

// SummaryPageData is the template data for the assessment page.
type SummaryPageData struct {
	PageData
	Case       *clinical.Case
	Steps      []StepLink
	Result     *assessment.Result
	Saved      bool
	Transcript []TranscriptSection
}

// CompletedGroupedPageData lists a user's attempts per case.
type CompletedGroupedPageData struct {
	PageData
	Groups []clinical.AttemptGroup
}

// CompletedCasePageData lists a user's attempts for one case.
type CompletedCasePageData struct {
	PageData
	Case  clinical.CaseSummary
	Items []ops.AttemptSummary
}

// CompletedDetailPageData shows one attempt.
type CompletedDetailPageData struct {
	PageData
	Attempt    *ops.AttemptDetail
	Transcript []TranscriptSection
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       *logger.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log *logger.Logger) *Renderer {
	funcMap := template.FuncMap{
		"add":         func(a, b int) int { return a + b },
		"sub":         func(a, b int) int { return a - b },
		"formatTime":  formatTime,
		"formatChars": formatChars,
		"stageLabel":  stageLabel,
		"deref":       deref,
		"hasValue":    hasValue,
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"home":              "home.html",
		"login":             "login.html",
		"register":          "register.html",
		"stage":             "stage.html",
		"summary":           "summary.html",
		"completed_grouped": "completed_grouped.html",
		"completed_case":    "completed_case.html",
		"completed_detail":  "completed_detail.html",
		"error":             "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	if log == nil {
		log = logger.Nop()
	}
	return &Renderer{
		templates: templates,
		version:   version,
		log:       log,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.log.Error("template not found", "template", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.log.Error("template execution failed", "template", page, "block", block, "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, user *ops.UserOutput, err error) {
	var mErr *errors.MedcaseError
	if !stderrors.As(err, &mErr) {
		mErr = errors.NewInternal(err)
	}

	status := mErr.Status
	message := mErr.Message
	if status >= 500 {
		r.log.Error("request failed", "path", req.URL.Path, "code", string(mErr.Code), "error", mErr.Error())
		message = "Wewnętrzny błąd serwera."
	}

	// HTMX request: return HTML fragment
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	// JSON request
	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(mErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	// Full error page
	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Błąd %d", status),
			Version: r.version,
			User:    user,
		},
		StatusCode: status,
		Message:    message,
	})
}

// wantsJSON reports whether the client asked for a JSON answer.
func wantsJSON(req *http.Request) bool {
	return req.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		req.FormValue("ajax") == "1" ||
		strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark. Raw HTML in
// the source is omitted.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// turnViews renders a stage's messages. Assistant replies are Markdown; user
// messages stay plain text.
func turnViews(turns []clinical.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		v := TurnView{Role: t.Role, Text: t.Text}
		if t.Role == clinical.RoleAssistant {
			v.HTML = renderMarkdown(t.Text)
		}
		out = append(out, v)
	}
	return out
}

// transcript renders every non-empty conversational stage in order.
func transcript(chats clinical.Chats) []TranscriptSection {
	var out []TranscriptSection
	for _, s := range stage.Core() {
		turns := chats[s]
		if len(turns) == 0 {
			continue
		}
		out = append(out, TranscriptSection{Label: s.Label(), Turns: turnViews(turns)})
	}
	return out
}

// formatTime formats a Unix millisecond timestamp as "2006-01-02 15:04" UTC.
func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

// formatChars formats an integer with space thousands separators.
func formatChars(n int) string {
	if n < 0 {
		return "-" + formatChars(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(' ')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func stageLabel(s stage.Stage) string {
	return s.Label()
}

// deref dereferences a pointer, returning the zero value if nil.
func deref(v any) any {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(rv.Type().Elem()).Interface()
		}
		return rv.Elem().Interface()
	}
	return v
}

// hasValue checks if a pointer value is non-nil.
func hasValue(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return !rv.IsNil()
	}
	return true
}
