package stage

import "fmt"

// Stage is one step of a clinical case run. The order of the constants is
// the order a user walks through them.
type Stage int

const (
	Diagnostics Stage = iota
	FirstExam
	Meds
	Reco
	Dispo
	Summary
)

// count is the number of defined stages.
const count = int(Summary) + 1

var names = [count]string{
	Diagnostics: "diagnostics",
	FirstExam:   "first_exam",
	Meds:        "meds",
	Reco:        "reco",
	Dispo:       "dispo",
	Summary:     "summary",
}

var labels = [count]string{
	Diagnostics: "Diagnostyka",
	FirstExam:   "Rozpoznanie wstępne",
	Meds:        "Leczenie ostre",
	Reco:        "Zalecenia po leczeniu",
	Dispo:       "Skierowanie / Dispo",
	Summary:     "Podsumowanie",
}

// passPhrase is what the tutor says when a stage is passed.
const passPhrase = "zaliczam"

// Parse returns the stage with the given wire name.
func Parse(name string) (Stage, bool) {
	for i, n := range names {
		if n == name {
			return Stage(i), true
		}
	}
	return 0, false
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	return s >= 0 && int(s) < count
}

// String returns the wire name, e.g. "first_exam".
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return names[s]
}

// Label returns the display label.
func (s Stage) Label() string {
	if !s.Valid() {
		return s.String()
	}
	return labels[s]
}

// Next returns the following stage. ok is false for the terminal stage.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s.IsTerminal() {
		return s, false
	}
	return s + 1, true
}

// Prev returns the preceding stage. ok is false for the first stage.
func (s Stage) Prev() (Stage, bool) {
	if !s.Valid() || s == Diagnostics {
		return s, false
	}
	return s - 1, true
}

// IsTerminal reports whether s is the summary stage.
func (s Stage) IsTerminal() bool {
	return s == Summary
}

// PassPhrases returns the phrases that mark s as completed when they appear
// in a tutor reply. The summary stage has none.
func (s Stage) PassPhrases() []string {
	switch s {
	case Diagnostics, FirstExam, Meds, Reco, Dispo:
		return []string{passPhrase}
	default:
		return nil
	}
}

// MarshalText implements encoding.TextMarshaler so stages can key JSON maps.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(names[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, ok := Parse(string(text))
	if !ok {
		return fmt.Errorf("unknown stage %q", string(text))
	}
	*s = parsed
	return nil
}

// All returns every stage in order.
func All() []Stage {
	out := make([]Stage, count)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// Core returns the conversational stages, i.e. all but the summary.
func Core() []Stage {
	return All()[:count-1]
}

// Names returns the wire names of all stages in order.
func Names() []string {
	out := make([]string, count)
	copy(out, names[:])
	return out
}
