package sim

import "fmt"

// Kind identifies the input widget and grading rule for a requirement.
type Kind string

const (
	KindNumeric       Kind = "numeric"
	KindDropdown      Kind = "dropdown"
	KindJournalDebit  Kind = "journal_debit"
	KindJournalCredit Kind = "journal_credit"
	KindText          Kind = "text"
	KindCitation      Kind = "citation"
	KindCheckbox      Kind = "checkbox"
	KindMatching      Kind = "matching"
)

// KnownKind reports whether k is one of the supported requirement kinds.
func KnownKind(k Kind) bool {
	switch k {
	case KindNumeric, KindDropdown, KindJournalDebit, KindJournalCredit,
		KindText, KindCitation, KindCheckbox, KindMatching:
		return true
	}
	return false
}

// Pair is one left/right association in a matching requirement.
type Pair struct {
	LeftID  string `json:"left_id"`
	RightID string `json:"right_id"`
}

// Option is one selectable choice for dropdown/checkbox requirements.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Answer is the correct-answer payload of a requirement. Exactly one
// concrete type exists per kind; the payload kind must match the
// requirement's own kind.
type Answer interface {
	Kind() Kind
	isAnswer()
}

type NumericAnswer struct {
	Value            float64 `json:"value"`
	Tolerance        float64 `json:"tolerance,omitempty"`
	TolerancePercent float64 `json:"tolerance_percent,omitempty"`
	AcceptNegative   bool    `json:"accept_negative,omitempty"`
}

func (NumericAnswer) Kind() Kind { return KindNumeric }
func (NumericAnswer) isAnswer()  {}

type DropdownAnswer struct {
	OptionID string `json:"option_id"`
}

func (DropdownAnswer) Kind() Kind { return KindDropdown }
func (DropdownAnswer) isAnswer()  {}

// JournalAnswer keys one side of a journal entry. Side is either
// KindJournalDebit or KindJournalCredit.
type JournalAnswer struct {
	Side      Kind    `json:"side"`
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`
	Tolerance float64 `json:"tolerance,omitempty"`
}

func (a JournalAnswer) Kind() Kind { return a.Side }
func (JournalAnswer) isAnswer()    {}

type TextAnswer struct {
	Keywords []string `json:"keywords"`
}

func (TextAnswer) Kind() Kind { return KindText }
func (TextAnswer) isAnswer()  {}

type CitationAnswer struct {
	Source    string `json:"source"`
	TopicCode string `json:"topic_code,omitempty"`
}

func (CitationAnswer) Kind() Kind { return KindCitation }
func (CitationAnswer) isAnswer()  {}

type CheckboxAnswer struct {
	OptionIDs []string `json:"option_ids"`
}

func (CheckboxAnswer) Kind() Kind { return KindCheckbox }
func (CheckboxAnswer) isAnswer()  {}

type MatchingAnswer struct {
	Pairs []Pair `json:"pairs"`
}

func (MatchingAnswer) Kind() Kind { return KindMatching }
func (MatchingAnswer) isAnswer()  {}

// Requirement is one gradable item inside a simulation. The Answer payload
// is supplied by the authoring side and treated as read-only at runtime.
type Requirement struct {
	ID          string   `json:"id"`
	Index       int      `json:"index"`
	Points      float64  `json:"points"`
	Kind        Kind     `json:"kind"`
	Label       string   `json:"label"`
	Hint        string   `json:"hint,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Answer      Answer   `json:"-"`
	Options     []Option `json:"options,omitempty"`
	GridRow     int      `json:"grid_row,omitempty"`
	GridCol     int      `json:"grid_col,omitempty"`
}

// Validate checks the structural invariants of a requirement: a known kind,
// positive points, and an answer payload whose kind matches the requirement.
func (r Requirement) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("requirement: missing id")
	}
	if !KnownKind(r.Kind) {
		return fmt.Errorf("requirement %s: unknown kind %q", r.ID, r.Kind)
	}
	if r.Points <= 0 {
		return fmt.Errorf("requirement %s: points must be positive", r.ID)
	}
	if r.Answer == nil {
		return fmt.Errorf("requirement %s: missing answer payload", r.ID)
	}
	if r.Answer.Kind() != r.Kind {
		return fmt.Errorf("requirement %s: answer kind %q does not match requirement kind %q",
			r.ID, r.Answer.Kind(), r.Kind)
	}
	return nil
}

// Simulation is one task-based scenario: an ordered set of requirements
// plus the metadata the session controller needs.
type Simulation struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	Requirements     []Requirement `json:"requirements"`
	ExhibitKeys      []string      `json:"exhibit_keys,omitempty"`
	CreatedAt        int64         `json:"created_at,omitempty"`
}

// TimeLimitSec derives the session time limit from the authored estimate.
// Zero means untimed.
func (s Simulation) TimeLimitSec() int {
	return s.EstimatedMinutes * 60
}

// Validate checks every requirement and rejects duplicate IDs.
func (s Simulation) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("simulation: missing id")
	}
	if len(s.Requirements) == 0 {
		return fmt.Errorf("simulation %s: no requirements", s.ID)
	}
	seen := make(map[string]struct{}, len(s.Requirements))
	for _, r := range s.Requirements {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("simulation %s: duplicate requirement id %s", s.ID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
