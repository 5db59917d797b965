package session

import (
	"slices"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/stage"
)

// State is the per-browser conversational state. It is loaded at the start
// of a request and written back at the end.
type State struct {
	ActiveCaseSlug  string         `json:"active_case_slug,omitempty"`
	Chats           clinical.Chats `json:"chats,omitempty"`
	CompletedStages []stage.Stage  `json:"completed_stages,omitempty"`
	CanProceed      bool           `json:"can_proceed,omitempty"`
	CaseSaved       bool           `json:"case_saved,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Chats: clinical.Chats{}}
}

// Activate makes slug the active case. Switching to a different case clears
// the conversation; the logged-in user is kept. Reports whether it switched.
func (s *State) Activate(slug string) bool {
	if s.ActiveCaseSlug == slug {
		if s.Chats == nil {
			s.Chats = clinical.Chats{}
		}
		return false
	}
	s.Reset(slug)
	return true
}

// Reset starts the case over.
func (s *State) Reset(slug string) {
	s.ActiveCaseSlug = slug
	s.Chats = clinical.Chats{}
	s.CompletedStages = nil
	s.CanProceed = false
	s.CaseSaved = false
}

// IsCompleted reports whether the stage was passed in this run.
func (s *State) IsCompleted(st stage.Stage) bool {
	return slices.Contains(s.CompletedStages, st)
}

// MarkCompleted records a passed stage. Repeated calls are no-ops.
func (s *State) MarkCompleted(st stage.Stage) {
	s.CanProceed = true
	if !s.IsCompleted(st) {
		s.CompletedStages = append(s.CompletedStages, st)
	}
}

// LoggedIn reports whether a user is attached to the session.
func (s *State) LoggedIn() bool {
	return s.UserID != ""
}
