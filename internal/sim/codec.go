package sim

import (
	"encoding/json"
	"fmt"
)

// Wire format: responses and answer payloads travel as a tagged envelope,
// {"kind": "...", ...payload fields...}, so a ResponseMap round-trips
// through persistence without losing its variant types.

type respEnvelope struct {
	Kind Kind `json:"kind"`
}

func (r NumericResponse) MarshalJSON() ([]byte, error)  { return marshalResponse(r) }
func (r DropdownResponse) MarshalJSON() ([]byte, error) { return marshalResponse(r) }
func (r JournalResponse) MarshalJSON() ([]byte, error)  { return marshalResponse(r) }
func (r TextResponse) MarshalJSON() ([]byte, error)     { return marshalResponse(r) }
func (r CitationResponse) MarshalJSON() ([]byte, error) { return marshalResponse(r) }
func (r CheckboxResponse) MarshalJSON() ([]byte, error) { return marshalResponse(r) }
func (r MatchingResponse) MarshalJSON() ([]byte, error) { return marshalResponse(r) }

func marshalResponse(r Response) ([]byte, error) {
	payload, err := marshalPlain(r)
	if err != nil {
		return nil, err
	}
	return tagPayload(r.Kind(), payload)
}

// marshalPlain serializes the variant struct without re-entering its
// MarshalJSON method.
func marshalPlain(r Response) ([]byte, error) {
	switch v := r.(type) {
	case NumericResponse:
		type plain NumericResponse
		return json.Marshal(plain(v))
	case DropdownResponse:
		type plain DropdownResponse
		return json.Marshal(plain(v))
	case JournalResponse:
		type plain JournalResponse
		return json.Marshal(plain(v))
	case TextResponse:
		type plain TextResponse
		return json.Marshal(plain(v))
	case CitationResponse:
		type plain CitationResponse
		return json.Marshal(plain(v))
	case CheckboxResponse:
		type plain CheckboxResponse
		return json.Marshal(plain(v))
	case MatchingResponse:
		type plain MatchingResponse
		return json.Marshal(plain(v))
	}
	return nil, fmt.Errorf("sim: unknown response type %T", r)
}

func tagPayload(k Kind, payload []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	kb, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	m["kind"] = kb
	return json.Marshal(m)
}

// UnmarshalResponse decodes one tagged response envelope.
func UnmarshalResponse(b []byte) (Response, error) {
	var head respEnvelope
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("sim: decode response envelope: %w", err)
	}
	switch head.Kind {
	case KindNumeric:
		var r NumericResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	case KindDropdown:
		var r DropdownResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	case KindJournalDebit, KindJournalCredit:
		var r JournalResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		r.Side = head.Kind
		return r, nil
	case KindText:
		var r TextResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	case KindCitation:
		var r CitationResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	case KindCheckbox:
		var r CheckboxResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return NewCheckboxResponse(r.Selected), nil
	case KindMatching:
		var r MatchingResponse
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("sim: unknown response kind %q", head.Kind)
}

// UnmarshalJSON decodes a map of tagged response envelopes.
func (m *ResponseMap) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(ResponseMap, len(raw))
	for id, rb := range raw {
		r, err := UnmarshalResponse(rb)
		if err != nil {
			return fmt.Errorf("sim: response %s: %w", id, err)
		}
		out[id] = r
	}
	*m = out
	return nil
}

// MarshalAnswer serializes a correct-answer payload with its kind tag,
// primarily for the audit copy stored on attempt records.
func MarshalAnswer(a Answer) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("sim: nil answer")
	}
	payload, err := marshalAnswerPlain(a)
	if err != nil {
		return nil, err
	}
	return tagPayload(a.Kind(), payload)
}

func marshalAnswerPlain(a Answer) ([]byte, error) {
	switch v := a.(type) {
	case NumericAnswer:
		return json.Marshal(v)
	case DropdownAnswer:
		return json.Marshal(v)
	case JournalAnswer:
		return json.Marshal(v)
	case TextAnswer:
		return json.Marshal(v)
	case CitationAnswer:
		return json.Marshal(v)
	case CheckboxAnswer:
		return json.Marshal(v)
	case MatchingAnswer:
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("sim: unknown answer type %T", a)
}

// UnmarshalAnswer decodes a tagged answer envelope.
func UnmarshalAnswer(b []byte) (Answer, error) {
	var head respEnvelope
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("sim: decode answer envelope: %w", err)
	}
	switch head.Kind {
	case KindNumeric:
		var a NumericAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindDropdown:
		var a DropdownAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindJournalDebit, KindJournalCredit:
		var a JournalAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		a.Side = head.Kind
		return a, nil
	case KindText:
		var a TextAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindCitation:
		var a CitationAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindCheckbox:
		var a CheckboxAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	case KindMatching:
		var a MatchingAnswer
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("sim: unknown answer kind %q", head.Kind)
}

// MarshalJSON includes the answer payload as a tagged "answer" field.
// GetSimulationForTaker-style call sites drop answers by clearing the field
// before marshaling.
func (r Requirement) MarshalJSON() ([]byte, error) {
	type plain Requirement
	body, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if r.Answer == nil {
		return body, nil
	}
	ab, err := MarshalAnswer(r.Answer)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["answer"] = ab
	return json.Marshal(m)
}

func (r *Requirement) UnmarshalJSON(b []byte) error {
	type plain Requirement
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var extra struct {
		Answer json.RawMessage `json:"answer"`
	}
	if err := json.Unmarshal(b, &extra); err != nil {
		return err
	}
	*r = Requirement(p)
	if len(extra.Answer) > 0 {
		a, err := UnmarshalAnswer(extra.Answer)
		if err != nil {
			return fmt.Errorf("sim: requirement %s: %w", r.ID, err)
		}
		r.Answer = a
	}
	return nil
}
