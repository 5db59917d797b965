package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/ops"
	"github.com/hpungsan/medcase/internal/session"
	"github.com/hpungsan/medcase/internal/stage"
)

var homeFeatures = []string{
	"Interaktywne etapy diagnostyki z prowadzeniem krok po kroku",
	"Baza przypadków z aktualizowanymi instrukcjami",
	"Śledzenie postępów i możliwość powrotu do poprzednich etapów",
}

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	tutor    *ops.Tutor
	sessions *session.Manager
	renderer *Renderer
	log      *logger.Logger
}

func (h *Handlers) page(title, nav string, user *ops.UserOutput) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		User:    user,
	}
}

// currentUser returns the session's account. A session pointing at a
// removed account is logged out.
func (h *Handlers) currentUser(ctx context.Context, sess *session.Session) *ops.UserOutput {
	if !sess.State.LoggedIn() {
		return nil
	}
	u, err := ops.GetUser(ctx, h.tutor.DB, sess.State.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			sess.State.UserID = ""
		} else {
			h.log.Error("user lookup failed", "user_id", sess.State.UserID, "error", err.Error())
		}
		return nil
	}
	return u
}

// commit persists the session. It must run before anything is written.
func (h *Handlers) commit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := h.sessions.Save(w, r, sess); err != nil {
		h.log.Error("session save failed", "session_id", sess.ID, "path", r.URL.Path, "error", err.Error())
	}
}

// HandleHome handles GET /: the landing page with a sample case.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	user := h.currentUser(r.Context(), sess)

	limit := 1
	if user != nil {
		limit = h.tutor.Config.HomeCaseLimit
	}
	list, err := ops.ListCases(r.Context(), h.tutor.DB, ops.ListCasesInput{Limit: limit})
	if err != nil {
		h.renderer.renderError(w, r, user, err)
		return
	}

	data := HomePageData{
		PageData:    h.page("Medcase", "home", user),
		Features:    homeFeatures,
		SampleStage: stage.Diagnostics.String(),
	}
	if len(list.Items) > 0 {
		data.Sample = &list.Items[0]
	}
	if user != nil {
		data.Cases = list.Items
	}
	h.renderer.renderPage(w, r, "home", data)
}

// HandleLoginForm handles GET /login.
func (h *Handlers) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	next := safeNext(r.URL.Query().Get("next"))
	user := h.currentUser(r.Context(), sess)
	if user != nil {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.renderer.renderPage(w, r, "login", AuthPageData{
		PageData: h.page("Logowanie", "login", nil),
		Next:     next,
	})
}

// HandleLogin handles POST /login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	next := safeNext(r.FormValue("next"))
	username := r.FormValue("username")

	user, err := ops.Authenticate(r.Context(), h.tutor.DB, username, r.FormValue("password"))
	if err != nil {
		if errors.Is(err, errors.ErrUnauthorized) {
			h.renderer.renderPage(w, r, "login", AuthPageData{
				PageData: h.page("Logowanie", "login", nil),
				Next:     next,
				Username: username,
				Error:    errors.MessageOf(err),
			})
			return
		}
		h.renderer.renderError(w, r, nil, err)
		return
	}

	h.logIn(w, r, sess, user)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// HandleRegisterForm handles GET /register.
func (h *Handlers) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "register", AuthPageData{
		PageData: h.page("Rejestracja", "register", nil),
		Next:     safeNext(r.URL.Query().Get("next")),
	})
}

// HandleRegister handles POST /register: creates the account and logs in.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	next := safeNext(r.FormValue("next"))
	username := r.FormValue("username")

	user, err := ops.Register(r.Context(), h.tutor.DB, ops.RegisterInput{
		Username: username,
		Password: r.FormValue("password1"),
		Confirm:  r.FormValue("password2"),
	})
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) || errors.Is(err, errors.ErrNameAlreadyExists) {
			h.renderer.renderPage(w, r, "register", AuthPageData{
				PageData: h.page("Rejestracja", "register", nil),
				Next:     next,
				Username: username,
				Error:    errors.MessageOf(err),
			})
			return
		}
		h.renderer.renderError(w, r, nil, err)
		return
	}

	h.logIn(w, r, sess, user)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *Handlers) logIn(w http.ResponseWriter, r *http.Request, sess *session.Session, user *ops.UserOutput) {
	sess.State.UserID = user.ID
	h.sessions.Rotate(sess)
	h.commit(w, r, sess)
	h.log.Info("user logged in", "user_id", user.ID)
}

// HandleLogout handles POST /logout. The whole conversation is dropped with
// the account.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	sess.State = session.NewState()
	h.sessions.Rotate(sess)
	h.commit(w, r, sess)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleStage handles GET /chat/{slug}/{stage}.
func (h *Handlers) HandleStage(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	user := h.currentUser(r.Context(), sess)

	st, ok := stage.Parse(r.PathValue("stage"))
	if !ok {
		h.renderer.renderError(w, r, user, errors.NewNotFound("stage", r.PathValue("stage")))
		return
	}
	c, err := ops.LoadCase(r.Context(), h.tutor.DB, r.PathValue("slug"))
	if err != nil {
		h.renderer.renderError(w, r, user, err)
		return
	}

	state := sess.State
	state.Activate(c.Slug)

	if st.IsTerminal() {
		h.summary(w, r, sess, user, c)
		return
	}

	h.commit(w, r, sess)

	data := StagePageData{
		PageData:    h.page(c.Name+" · "+st.Label(), "chat", user),
		Case:        c,
		ContentHTML: renderMarkdown(c.Content),
		Stage:       st.String(),
		StageLabel:  st.Label(),
		Steps:       steps(state, st),
		Turns:       turnViews(state.Chats[st]),
		Completed:   state.IsCompleted(st),
	}
	if prev, ok := st.Prev(); ok {
		data.PrevStage = prev.String()
	}
	if next, ok := st.Next(); ok && data.Completed {
		data.NextStage = next.String()
	}
	h.renderer.renderPage(w, r, "stage", data)
}

// summary renders the assessment of a finished run and records the attempt
// once for a logged-in user. Unfinished runs go back to the first missing
// stage.
func (h *Handlers) summary(w http.ResponseWriter, r *http.Request, sess *session.Session, user *ops.UserOutput, c *clinical.Case) {
	state := sess.State
	if missing, ok := ops.FirstMissingStage(state.CompletedStages); ok {
		h.commit(w, r, sess)
		http.Redirect(w, r, stageURL(c.Slug, missing), http.StatusFound)
		return
	}

	result := ops.Summarize(r.Context(), h.tutor, c, state.Chats)
	if state.LoggedIn() {
		if _, err := ops.FinishAttempt(r.Context(), h.tutor.DB, state, c, result); err != nil {
			h.log.Error("attempt save failed", "case", c.Slug, "user_id", state.UserID, "error", err.Error())
		}
	}
	h.commit(w, r, sess)

	h.renderer.renderPage(w, r, "summary", SummaryPageData{
		PageData:   h.page(c.Name+" · "+stage.Summary.Label(), "chat", user),
		Case:       c,
		Steps:      steps(state, stage.Summary),
		Result:     result,
		Saved:      state.CaseSaved,
		Transcript: transcript(state.Chats),
	})
}

// HandleMessage handles POST /chat/{slug}/{stage}: one conversational turn.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)

	st, ok := stage.Parse(r.PathValue("stage"))
	if !ok {
		h.renderer.renderError(w, r, nil, errors.NewNotFound("stage", r.PathValue("stage")))
		return
	}
	c, err := ops.LoadCase(r.Context(), h.tutor.DB, r.PathValue("slug"))
	if err != nil {
		h.renderer.renderError(w, r, nil, err)
		return
	}

	ajax := wantsJSON(r)
	out, err := ops.SendMessage(r.Context(), h.tutor, sess.State, c, st, r.FormValue("message"))
	if err != nil {
		if errors.Is(err, errors.ErrStageCompleted) {
			h.commit(w, r, sess)
			if ajax {
				renderJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "stage_completed"})
				return
			}
			http.Redirect(w, r, stageURL(c.Slug, st), http.StatusSeeOther)
			return
		}
		h.renderer.renderError(w, r, nil, err)
		return
	}

	h.commit(w, r, sess)
	if ajax {
		renderJSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"bot_text":        out.BotText,
			"stage_completed": out.StageCompleted,
		})
		return
	}
	http.Redirect(w, r, stageURL(c.Slug, st), http.StatusSeeOther)
}

// HandleReset handles POST /chat/{slug}/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)
	c, err := ops.LoadCase(r.Context(), h.tutor.DB, r.PathValue("slug"))
	if err != nil {
		h.renderer.renderError(w, r, nil, err)
		return
	}
	sess.State.Reset(c.Slug)
	h.commit(w, r, sess)
	http.Redirect(w, r, stageURL(c.Slug, stage.Diagnostics), http.StatusSeeOther)
}

// requireUser returns the logged-in account or redirects to the login page.
func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) *ops.UserOutput {
	sess := h.sessions.Load(r)
	user := h.currentUser(r.Context(), sess)
	if user == nil {
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return nil
	}
	return user
}

// HandleCompletedGrouped handles GET /completed.
func (h *Handlers) HandleCompletedGrouped(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	groups, err := ops.ListAttemptGroups(r.Context(), h.tutor.DB, user.ID)
	if err != nil {
		h.renderer.renderError(w, r, user, err)
		return
	}
	h.renderer.renderPage(w, r, "completed_grouped", CompletedGroupedPageData{
		PageData: h.page("Ukończone przypadki", "completed", user),
		Groups:   groups,
	})
}

// HandleCompletedCase handles GET /completed/{slug}.
func (h *Handlers) HandleCompletedCase(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	out, err := ops.ListAttempts(r.Context(), h.tutor.DB, user.ID, r.PathValue("slug"))
	if err != nil {
		h.renderer.renderError(w, r, user, err)
		return
	}
	h.renderer.renderPage(w, r, "completed_case", CompletedCasePageData{
		PageData: h.page(out.Case.Name, "completed", user),
		Case:     out.Case,
		Items:    out.Items,
	})
}

// HandleCompletedDetail handles GET /completed/p/{id}.
func (h *Handlers) HandleCompletedDetail(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	detail, err := ops.GetAttempt(r.Context(), h.tutor.DB, user.ID, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, user, err)
		return
	}
	h.renderer.renderPage(w, r, "completed_detail", CompletedDetailPageData{
		PageData:   h.page(detail.Case.Name, "completed", user),
		Attempt:    detail,
		Transcript: transcript(detail.Chats),
	})
}

// steps builds the stage navigation for the active run.
func steps(state *session.State, current stage.Stage) []StepLink {
	all := stage.All()
	out := make([]StepLink, 0, len(all))
	for _, s := range all {
		out = append(out, StepLink{
			Name:    s.String(),
			Label:   s.Label(),
			Done:    state.IsCompleted(s),
			Current: s == current,
		})
	}
	return out
}

func stageURL(slug string, s stage.Stage) string {
	return "/chat/" + url.PathEscape(slug) + "/" + s.String()
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}
