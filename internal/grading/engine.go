package grading

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ledgerprep/tbs/internal/sim"
)

const noResponseFeedback = "No response provided"

// Detail is the graded outcome for a single requirement.
type Detail struct {
	RequirementID   string  `json:"requirement_id"`
	PointsEarned    float64 `json:"points_earned"`
	PointsPossible  float64 `json:"points_possible"`
	IsCorrect       bool    `json:"is_correct"`
	IsPartialCredit bool    `json:"is_partial_credit"`
	Feedback        string  `json:"feedback"`
}

// Result aggregates the graded details for one submission.
type Result struct {
	TotalPoints  float64  `json:"total_points"`
	EarnedPoints float64  `json:"earned_points"`
	Percentage   int      `json:"percentage"`
	Details      []Detail `json:"details"`
}

// Score is what a per-kind strategy awards for one response.
type Score struct {
	Earned   float64
	Correct  bool
	Partial  bool
	Feedback string
}

// Strategy grades one requirement of a specific kind. Strategies return an
// error only for variant/kind mismatches, which are integration bugs at the
// widget boundary.
type Strategy interface {
	Grade(req sim.Requirement, resp sim.Response) (Score, error)
}

// Engine routes each requirement to its kind's strategy and aggregates.
// Grading is pure: same inputs always produce the same Result.
type Engine struct {
	strategies map[sim.Kind]Strategy
}

type config struct {
	SignFlipCredit    float64
	AccountOnlyCredit float64
	AmountOnlyCredit  float64
	PartialCheckbox   bool
}

type Option func(*config)

// WithSignFlipCredit sets the fraction awarded for a numeric answer that
// matches the negated correct value.
func WithSignFlipCredit(f float64) Option { return func(c *config) { c.SignFlipCredit = f } }

// WithPartialCheckbox toggles proportional credit for checkbox selections
// that contain no false positives.
func WithPartialCheckbox(b bool) Option { return func(c *config) { c.PartialCheckbox = b } }

// NewEngine installs the built-in strategy per requirement kind.
func NewEngine(opts ...Option) *Engine {
	cfg := &config{
		SignFlipCredit:    0.5,
		AccountOnlyCredit: 0.5,
		AmountOnlyCredit:  0.25,
		PartialCheckbox:   true,
	}
	for _, o := range opts {
		o(cfg)
	}
	journal := journalStrategy{
		accountOnlyCredit: cfg.AccountOnlyCredit,
		amountOnlyCredit:  cfg.AmountOnlyCredit,
	}
	return &Engine{
		strategies: map[sim.Kind]Strategy{
			sim.KindNumeric:       numericStrategy{signFlipCredit: cfg.SignFlipCredit},
			sim.KindDropdown:      dropdownStrategy{},
			sim.KindJournalDebit:  journal,
			sim.KindJournalCredit: journal,
			sim.KindText:          textStrategy{},
			sim.KindCitation:      citationStrategy{},
			sim.KindCheckbox:      checkboxStrategy{allowPartial: cfg.PartialCheckbox},
			sim.KindMatching:      matchingStrategy{},
		},
	}
}

// Grade scores every requirement against the response map. A missing
// response always yields zero credit with the standard feedback and never
// consults the answer key. A strategy failure on one requirement zeroes
// that requirement only; the rest of the pass continues.
func (e *Engine) Grade(reqs []sim.Requirement, responses sim.ResponseMap) Result {
	ordered := make([]sim.Requirement, len(reqs))
	copy(ordered, reqs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	res := Result{Details: make([]Detail, 0, len(ordered))}
	for _, req := range ordered {
		res.TotalPoints += req.Points
		d := e.gradeOne(req, responses)
		res.EarnedPoints += d.PointsEarned
		res.Details = append(res.Details, d)
	}
	if res.TotalPoints > 0 {
		res.Percentage = int(math.Round(100 * res.EarnedPoints / res.TotalPoints))
	}
	return res
}

func (e *Engine) gradeOne(req sim.Requirement, responses sim.ResponseMap) Detail {
	d := Detail{RequirementID: req.ID, PointsPossible: req.Points}
	resp, has := responses[req.ID]
	if !has || resp == nil {
		d.Feedback = noResponseFeedback
		return d
	}
	s, ok := e.strategies[req.Kind]
	if !ok {
		d.Feedback = "This item could not be graded"
		return d
	}
	score, err := s.Grade(req, resp)
	if err != nil {
		d.Feedback = "This item could not be graded"
		return d
	}
	d.PointsEarned = score.Earned
	d.IsCorrect = score.Correct
	d.IsPartialCredit = score.Partial
	d.Feedback = withExplanation(score.Feedback, req.Explanation)
	return d
}

// withExplanation appends the authored explanation to the base feedback so
// the taker always sees the learning note right after the verdict.
func withExplanation(base, explanation string) string {
	if explanation == "" {
		return base
	}
	if base == "" {
		return explanation
	}
	return base + " " + explanation
}

var errVariantMismatch = errors.New("response variant does not match requirement kind")

// --- Strategies ---

type numericStrategy struct{ signFlipCredit float64 }

func (s numericStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.NumericAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.NumericResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	if r.Value == nil {
		return Score{Feedback: noResponseFeedback}, nil
	}
	v := *r.Value
	if numericMatch(v, ans.Value, ans.Tolerance, ans.TolerancePercent) {
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	}
	if ans.AcceptNegative && numericMatch(v, -ans.Value, ans.Tolerance, ans.TolerancePercent) {
		return Score{
			Earned:   req.Points * s.signFlipCredit,
			Partial:  true,
			Feedback: "Correct magnitude, wrong sign.",
		}, nil
	}
	return Score{Feedback: fmt.Sprintf("Incorrect. The correct value is %s.", formatAmount(ans.Value))}, nil
}

type dropdownStrategy struct{}

func (dropdownStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.DropdownAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.DropdownResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	if r.OptionID == nil {
		return Score{Feedback: noResponseFeedback}, nil
	}
	if *r.OptionID == ans.OptionID {
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	}
	return Score{Feedback: "Incorrect selection."}, nil
}

// journalStrategy weights account identification twice as heavily as amount
// precision: account+amount full, account only 50%, amount only 25%.
type journalStrategy struct {
	accountOnlyCredit float64
	amountOnlyCredit  float64
}

func (s journalStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.JournalAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.JournalResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	accountOK := r.AccountID != nil && *r.AccountID == ans.AccountID
	amountOK := r.Amount != nil && math.Abs(*r.Amount-ans.Amount) <= ans.Tolerance
	switch {
	case accountOK && amountOK:
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	case accountOK:
		return Score{
			Earned:   req.Points * s.accountOnlyCredit,
			Partial:  true,
			Feedback: "Correct account, incorrect amount.",
		}, nil
	case amountOK:
		return Score{
			Earned:   req.Points * s.amountOnlyCredit,
			Partial:  true,
			Feedback: "Correct amount, incorrect account.",
		}, nil
	}
	return Score{Feedback: "Incorrect account and amount."}, nil
}

type textStrategy struct{}

func (textStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.TextAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.TextResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	found, required := keywordHits(r.Value, ans.Keywords)
	if required == 0 {
		// Expected data state, not a failure: nothing to grade against.
		return Score{Feedback: "No key concepts configured for this item."}, nil
	}
	switch {
	case found == required:
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	case found > 0:
		return Score{
			Earned:   req.Points * float64(found) / float64(required),
			Partial:  true,
			Feedback: fmt.Sprintf("Found %d of %d key concepts.", found, required),
		}, nil
	}
	return Score{Feedback: "None of the key concepts were found."}, nil
}

type citationStrategy struct{}

func (citationStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.CitationAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.CitationResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	if citationMatch(r.Value, ans.Source+ans.TopicCode) {
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	}
	return Score{Feedback: "Citation does not match the required source."}, nil
}

type checkboxStrategy struct{ allowPartial bool }

func (s checkboxStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.CheckboxAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.CheckboxResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	correct := toSet(ans.OptionIDs)
	selected := toSet(r.Selected)
	if len(correct) == 0 {
		return Score{Feedback: "No correct selections configured for this item."}, nil
	}
	if setEqual(correct, selected) {
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	}
	hits := 0
	falsePositive := false
	for id := range selected {
		if _, ok := correct[id]; ok {
			hits++
		} else {
			falsePositive = true
		}
	}
	if s.allowPartial && !falsePositive && hits > 0 {
		return Score{
			Earned:   req.Points * float64(hits) / float64(len(correct)),
			Partial:  true,
			Feedback: fmt.Sprintf("%d of %d correct selections.", hits, len(correct)),
		}, nil
	}
	return Score{Feedback: "Incorrect selections."}, nil
}

type matchingStrategy struct{}

func (matchingStrategy) Grade(req sim.Requirement, resp sim.Response) (Score, error) {
	ans, ok := req.Answer.(sim.MatchingAnswer)
	if !ok {
		return Score{}, errVariantMismatch
	}
	r, ok := resp.(sim.MatchingResponse)
	if !ok {
		return Score{}, errVariantMismatch
	}
	if len(ans.Pairs) == 0 {
		return Score{Feedback: "No pairs configured for this item."}, nil
	}
	want := make(map[string]string, len(ans.Pairs))
	for _, p := range ans.Pairs {
		want[p.LeftID] = p.RightID
	}
	hits := 0
	for _, p := range r.Pairs {
		if want[p.LeftID] == p.RightID {
			hits++
		}
	}
	if hits == len(ans.Pairs) && len(r.Pairs) == len(ans.Pairs) {
		return Score{Earned: req.Points, Correct: true, Feedback: "Correct!"}, nil
	}
	if hits > 0 {
		return Score{
			Earned:   req.Points * float64(hits) / float64(len(ans.Pairs)),
			Partial:  true,
			Feedback: fmt.Sprintf("%d of %d matches correct.", hits, len(ans.Pairs)),
		}, nil
	}
	return Score{Feedback: "No matches were correct."}, nil
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
