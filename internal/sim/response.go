package sim

import "strings"

// Response is a test-taker's answer to one requirement. It is a closed
// union: one concrete type per requirement kind. Responses are value
// snapshots produced by the input widgets; they are replaced on change,
// never mutated in place.
type Response interface {
	Kind() Kind
	isResponse()
}

type NumericResponse struct {
	Value *float64 `json:"value"`
}

func (NumericResponse) Kind() Kind  { return KindNumeric }
func (NumericResponse) isResponse() {}

type DropdownResponse struct {
	OptionID *string `json:"option_id"`
}

func (DropdownResponse) Kind() Kind  { return KindDropdown }
func (DropdownResponse) isResponse() {}

// JournalResponse is one side of a journal entry. The two fields are
// independently nullable: a taker may fill the account before the amount.
type JournalResponse struct {
	Side      Kind     `json:"side"`
	AccountID *string  `json:"account_id"`
	Amount    *float64 `json:"amount"`
}

func (r JournalResponse) Kind() Kind { return r.Side }
func (JournalResponse) isResponse()  {}

type TextResponse struct {
	Value string `json:"value"`
}

func (TextResponse) Kind() Kind  { return KindText }
func (TextResponse) isResponse() {}

type CitationResponse struct {
	Value     string `json:"value"`
	SourceTag string `json:"source_tag,omitempty"`
}

func (CitationResponse) Kind() Kind  { return KindCitation }
func (CitationResponse) isResponse() {}

type CheckboxResponse struct {
	Selected []string `json:"selected"`
}

// NewCheckboxResponse builds a checkbox response, deduplicating the
// selection so the set property holds by construction.
func NewCheckboxResponse(selected []string) CheckboxResponse {
	seen := make(map[string]struct{}, len(selected))
	out := make([]string, 0, len(selected))
	for _, id := range selected {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return CheckboxResponse{Selected: out}
}

func (CheckboxResponse) Kind() Kind  { return KindCheckbox }
func (CheckboxResponse) isResponse() {}

type MatchingResponse struct {
	Pairs []Pair `json:"pairs"`
}

func (MatchingResponse) Kind() Kind  { return KindMatching }
func (MatchingResponse) isResponse() {}

// ResponseMap holds the current answers for one session, keyed by
// requirement ID. It is the single piece of state the history manager
// wraps.
type ResponseMap map[string]Response

// Clone copies the map. Response values are immutable snapshots, so a
// shallow entry copy is a full snapshot of the answer state.
func (m ResponseMap) Clone() ResponseMap {
	out := make(ResponseMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsAnswered is the per-kind completion predicate: it decides whether a
// response counts as answered for progress tracking. It is total over the
// closed response union; a nil response is unanswered.
func IsAnswered(r Response) bool {
	switch v := r.(type) {
	case nil:
		return false
	case NumericResponse:
		return v.Value != nil
	case DropdownResponse:
		return v.OptionID != nil
	case JournalResponse:
		// Both sides must be filled. A half-filled entry can still earn
		// partial credit at grading time but does not count as answered.
		return v.AccountID != nil && v.Amount != nil
	case TextResponse:
		return strings.TrimSpace(v.Value) != ""
	case CitationResponse:
		return strings.TrimSpace(v.Value) != ""
	case CheckboxResponse:
		return len(v.Selected) > 0
	case MatchingResponse:
		return len(v.Pairs) > 0
	}
	return false
}
