package prompt

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/stage"
)

// Fallback texts used when the case or conversation is empty.
const (
	NoTranscript  = "Brak historii rozmowy."
	NoDescription = "Brak opisu."
	NoReferenceDx = "Brak diagnozy referencyjnej."
)

// summaryTemplate is the assessment instruction. Literal JSON braces are doubled.
const summaryTemplate = `Jesteś klinicznym egzaminatorem i oceniasz przebieg symulacji medycznej prowadzonej po polsku.
Dostajesz opis przypadku, kanoniczne odpowiedzi instruktora oraz pełną transkrypcję rozmowy użytkownika z asystentem na kolejnych etapach.

Zadanie:
1. Oceń, na ile odpowiedzi użytkownika zgadzają się z odpowiedziami kanonicznymi.
2. Wskaż najmocniejsze i najsłabsze elementy jego postępowania.
3. Sformułuj jednozdaniowy werdykt i krótkie (2-3 zdania) podsumowanie całości.

Przypadek:
- Nazwa: {case_name}
- Opis: {case_content}
- Wstępna diagnoza referencyjna: {prelim_dx}

Odpowiedzi kanoniczne (JSON):
{canonical_answers}

Etapy z ostatnimi odpowiedziami (JSON):
{stage_payload}

Transkrypcja rozmowy z podziałem na etapy:
{transcript}

Odpowiedz wyłącznie poprawnym JSON (UTF-8, bez komentarzy) o dokładnie takiej strukturze:
{{
  "score": <liczba całkowita 0-100, procent zaliczenia>,
  "verdict": "krótki werdykt po polsku",
  "summary": "2-3 zdania o mocnych i słabych stronach, po polsku",
  "positives": ["najważniejsze", "mocne", "strony"],
  "negatives": ["obszary", "do", "poprawy"]
}}

Jeśli ocena nie jest możliwa, zwróć ten sam JSON z wartością null w każdym polu.
`

// StageRecord is one conversational stage as presented to the assessor.
type StageRecord struct {
	Stage               string          `json:"stage"`
	Label               string          `json:"label"`
	Conversation        []clinical.Turn `json:"conversation"`
	UserLastAnswer      string          `json:"user_last_answer"`
	AssistantLastAnswer string          `json:"assistant_last_answer"`
}

// CanonicalAnswers are the reference answers keyed by stage, in stage order.
// The first exam draws from the raw preliminary diagnosis.
type CanonicalAnswers struct {
	Diagnostics string `json:"diagnostics"`
	FirstExam   string `json:"first_exam"`
	Meds        string `json:"meds"`
	Reco        string `json:"reco"`
	Dispo       string `json:"dispo"`
}

// Summary is an assembled assessment prompt.
type Summary struct {
	// Instructions is the filled assessment template (system message).
	Instructions string
	// Transcript is also sent as the user input.
	Transcript string
}

// BuildStagePayload returns one record per conversational stage, in order.
// Stages missing from chats get an empty conversation.
func BuildStagePayload(chats clinical.Chats) []StageRecord {
	core := stage.Core()
	records := make([]StageRecord, 0, len(core))
	for _, s := range core {
		conversation := append(make([]clinical.Turn, 0, len(chats[s])), chats[s]...)
		records = append(records, StageRecord{
			Stage:               s.String(),
			Label:               s.Label(),
			Conversation:        conversation,
			UserLastAnswer:      chats.LastText(s, clinical.RoleUser),
			AssistantLastAnswer: chats.LastText(s, clinical.RoleAssistant),
		})
	}
	return records
}

// BuildTranscript renders records as "## Label" sections of "ROLE: text"
// lines separated by blank lines. When no stage has any message the
// NoTranscript placeholder is returned instead.
func BuildTranscript(records []StageRecord) string {
	empty := true
	for _, r := range records {
		if len(r.Conversation) > 0 {
			empty = false
			break
		}
	}
	if empty {
		return NoTranscript
	}

	sections := make([]string, 0, len(records))
	for _, r := range records {
		lines := []string{"## " + r.Label}
		for _, turn := range r.Conversation {
			lines = append(lines, strings.ToUpper(turn.Role)+": "+turn.Text)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	transcript := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if transcript == "" {
		return NoTranscript
	}
	return transcript
}

// CanonicalAnswersFor collects the reference answers of a case.
func CanonicalAnswersFor(c *clinical.Case) CanonicalAnswers {
	return CanonicalAnswers{
		Diagnostics: c.DiagnosticsNorm,
		FirstExam:   c.PrelimDxRaw,
		Meds:        c.MedsNorm,
		Reco:        c.RecoNorm,
		Dispo:       c.DispoNorm,
	}
}

// AssembleSummary builds the assessment prompt for a finished run.
func AssembleSummary(c *clinical.Case, chats clinical.Chats) (*Summary, error) {
	records := BuildStagePayload(chats)
	transcript := BuildTranscript(records)

	canonical, err := marshalIndent(CanonicalAnswersFor(c))
	if err != nil {
		return nil, err
	}
	payload, err := marshalIndent(records)
	if err != nil {
		return nil, err
	}

	instructions, err := format(summaryTemplate, map[string]string{
		"case_name":         c.Name,
		"case_content":      orDefault(c.Content, NoDescription),
		"prelim_dx":         orDefault(c.PrelimDxRaw, NoReferenceDx),
		"canonical_answers": canonical,
		"stage_payload":     payload,
		"transcript":        transcript,
	})
	if err != nil {
		return nil, err
	}

	return &Summary{Instructions: instructions, Transcript: transcript}, nil
}

// marshalIndent encodes v with two-space indentation, leaving non-ASCII and
// HTML characters unescaped.
func marshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
