package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/rbac"
	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/sim"
	"github.com/ledgerprep/tbs/internal/store"
)

// testServer wires the handlers the way the gateway does, but with the
// in-memory store and an identity stamped straight into the context.
func testServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *session.Registry) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := session.NewRegistry(grading.NewEngine(), st)
	t.Cleanup(reg.Close)

	identity := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := r.Header.Get("X-Test-Role")
			sub := r.Header.Get("X-Test-Sub")
			ctx := rbac.WithRole(r.Context(), role)
			ctx = rbac.WithSubject(ctx, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	r := chi.NewRouter()
	r.Use(identity)
	r.With(rbac.Require("simulation:create")).Post("/simulations", UploadSimulationHandler(st))
	r.With(rbac.Require("simulation:view")).Get("/simulations/{simID}", GetSimulationHandler(st))
	r.With(rbac.Require("simulation:list")).Get("/simulations", ListSimulationsHandler(st))
	r.With(rbac.Require("session:create")).Post("/sessions", CreateSessionHandler(reg, st))
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Use(rbac.Require("session:interact"))
		sr.Use(rbac.RequireOwnerOr("session:manage", SessionOwner(reg)))
		sr.Get("/", GetSessionHandler(reg))
		sr.Put("/responses/{reqID}", SaveResponseHandler(reg))
		sr.Delete("/responses/{reqID}", ClearResponseHandler(reg))
		sr.Post("/undo", UndoHandler(reg))
		sr.Post("/redo", RedoHandler(reg))
		sr.Post("/pause", PauseHandler(reg))
		sr.Post("/resume", ResumeHandler(reg))
		sr.Post("/flag", FlagHandler(reg))
		sr.Post("/review", ReviewHandler(reg))
		sr.Post("/return", ReturnHandler(reg))
		sr.With(rbac.Require("session:submit")).Post("/submit", SubmitHandler(reg))
		sr.Delete("/", AbandonHandler(reg))
	})
	r.Get("/attempts/{attemptID}", GetAttemptHandler(st))
	r.Get("/attempts", ListAttemptsHandler(st))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, reg
}

func request(t *testing.T, srv *httptest.Server, method, path, role, sub, body string, wantCode int, out interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Test-Role", role)
	req.Header.Set("X-Test-Sub", sub)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		t.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode body: %v", method, path, err)
		}
	}
}

const simJSON = `{
  "id": "rev-rec-1",
  "title": "Revenue Recognition",
  "estimated_minutes": 25,
  "requirements": [
    {"id":"r1","index":0,"points":10,"kind":"numeric","label":"Net revenue",
     "answer":{"kind":"numeric","value":500,"tolerance":5}},
    {"id":"r2","index":1,"points":6,"kind":"text","label":"Justify",
     "answer":{"kind":"text","keywords":["revenue","contract"]}}
  ]
}`

func TestSimulationUploadAndRoleScopedFetch(t *testing.T) {
	srv, _, _ := testServer(t)

	// Takers may not author.
	request(t, srv, "POST", "/simulations", "taker", "alice", simJSON, 403, nil)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var forTaker struct {
		Requirements []map[string]json.RawMessage `json:"requirements"`
	}
	request(t, srv, "GET", "/simulations/rev-rec-1", "taker", "alice", "", 200, &forTaker)
	for _, r := range forTaker.Requirements {
		if _, ok := r["answer"]; ok {
			t.Fatal("taker payload still carries an answer key")
		}
	}

	var forAuthor struct {
		Requirements []map[string]json.RawMessage `json:"requirements"`
	}
	request(t, srv, "GET", "/simulations/rev-rec-1", "author", "ed", "", 200, &forAuthor)
	if _, ok := forAuthor.Requirements[0]["answer"]; !ok {
		t.Fatal("author payload should include answer keys")
	}

	request(t, srv, "GET", "/simulations/nope", "taker", "alice", "", 404, nil)
}

func TestSessionFlowOverHTTP(t *testing.T) {
	srv, _, _ := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	if snap.View != session.ViewInProgress || snap.TimeLimitSec != 1500 {
		t.Fatalf("created session: %+v", snap)
	}
	base := "/sessions/" + snap.ID

	// Answer the numeric requirement only.
	request(t, srv, "PUT", base+"/responses/r1", "taker", "alice",
		`{"kind":"numeric","value":503}`, 200, &snap)
	if snap.Progress.Answered != 1 {
		t.Fatalf("Answered = %d, want 1", snap.Progress.Answered)
	}

	// Submitting out of review is refused.
	request(t, srv, "POST", base+"/submit", "taker", "alice", "", 409, nil)

	request(t, srv, "POST", base+"/review", "taker", "alice", "", 200, &snap)
	if snap.View != session.ViewReview {
		t.Fatalf("view = %s, want review", snap.View)
	}

	var out session.SubmitOutcome
	request(t, srv, "POST", base+"/submit", "taker", "alice", "", 200, &out)
	if !out.NeedsConfirmation || out.Unanswered != 1 {
		t.Fatalf("incomplete submit outcome: %+v", out)
	}

	request(t, srv, "POST", base+"/submit", "taker", "alice", `{"confirmed":true}`, 200, &out)
	if !out.Graded || out.Result == nil {
		t.Fatalf("confirmed submit outcome: %+v", out)
	}
	if out.Result.EarnedPoints != 10 {
		t.Fatalf("EarnedPoints = %v, want 10", out.Result.EarnedPoints)
	}
}

func TestUndoRedoOverHTTP(t *testing.T) {
	srv, _, reg := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	base := "/sessions/" + snap.ID

	request(t, srv, "PUT", base+"/responses/r1", "taker", "alice",
		`{"kind":"numeric","value":500}`, 200, &snap)

	ctl, err := reg.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := ctl.Responses(); !sim.IsAnswered(got["r1"]) {
		t.Fatal("response did not reach the session")
	}

	// No checkpoint has committed yet, so undo has nothing to restore: it
	// reports false and the live answer stays put.
	var undoResp struct {
		Applied bool             `json:"applied"`
		State   session.Snapshot `json:"state"`
	}
	request(t, srv, "POST", base+"/undo", "taker", "alice", "", 200, &undoResp)
	if undoResp.Applied {
		t.Fatal("undo with no committed checkpoint should report applied=false")
	}
	if undoResp.State.Progress.Answered != 1 {
		t.Fatalf("live answer lost, Answered = %d", undoResp.State.Progress.Answered)
	}
}

func TestAttemptVisibility(t *testing.T) {
	srv, st, _ := testServer(t)
	seed := session.AttemptRecord{
		ID: "a1", SessionID: "s1", TakerID: "alice", SimulationID: "rev-rec-1",
		CompletedAt: 100, Responses: sim.ResponseMap{},
	}
	if err := st.SaveAttempt(context.Background(), seed); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	// The owner and the author can read it; another taker cannot.
	request(t, srv, "GET", "/attempts/a1", "taker", "alice", "", 200, nil)
	request(t, srv, "GET", "/attempts/a1", "author", "ed", "", 200, nil)
	request(t, srv, "GET", "/attempts/a1", "taker", "bob", "", 403, nil)
	request(t, srv, "GET", "/attempts/missing", "taker", "alice", "", 404, nil)

	// Listing pins takers to their own attempts.
	var recs []session.AttemptRecord
	request(t, srv, "GET", "/attempts?taker_id=alice", "taker", "bob", "", 200, &recs)
	if len(recs) != 0 {
		t.Fatalf("bob can see %d of alice's attempts", len(recs))
	}
	request(t, srv, "GET", "/attempts", "author", "ed", "", 200, &recs)
	if len(recs) != 1 {
		t.Fatalf("author listing has %d records, want 1", len(recs))
	}
}

func TestAbandonSession(t *testing.T) {
	srv, _, reg := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	request(t, srv, "DELETE", "/sessions/"+snap.ID, "taker", "alice", "", 204, nil)

	if _, err := reg.Get(snap.ID); err == nil {
		t.Fatal("abandoned session should be gone from the registry")
	}
	request(t, srv, "GET", "/sessions/"+snap.ID, "taker", "alice", "", 404, nil)
}

func TestSessionIsPrivateToItsTaker(t *testing.T) {
	srv, _, reg := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	base := "/sessions/" + snap.ID

	// Another taker who knows the ID gets nothing: no reads, no edits,
	// no submit, no teardown.
	request(t, srv, "GET", base, "taker", "bob", "", 403, nil)
	request(t, srv, "PUT", base+"/responses/r1", "taker", "bob",
		`{"kind":"numeric","value":500}`, 403, nil)
	request(t, srv, "POST", base+"/submit", "taker", "bob", `{"confirmed":true}`, 403, nil)
	request(t, srv, "DELETE", base, "taker", "bob", "", 403, nil)

	if _, err := reg.Get(snap.ID); err != nil {
		t.Fatalf("alice's session should have survived: %v", err)
	}
	ctl, _ := reg.Get(snap.ID)
	if got := ctl.State().Progress.Answered; got != 0 {
		t.Fatalf("Answered = %d after rejected edits, want 0", got)
	}

	// The owner and an admin still get through.
	request(t, srv, "GET", base, "taker", "alice", "", 200, nil)
	request(t, srv, "GET", base, "admin", "root", "", 200, nil)
}

func TestConfirmedSubmitWithoutPendingPrompt(t *testing.T) {
	srv, _, _ := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	base := "/sessions/" + snap.ID

	request(t, srv, "PUT", base+"/responses/r1", "taker", "alice",
		`{"kind":"numeric","value":500}`, 200, nil)
	request(t, srv, "PUT", base+"/responses/r2", "taker", "alice",
		`{"kind":"text","value":"revenue per the contract terms"}`, 200, nil)
	request(t, srv, "POST", base+"/review", "taker", "alice", "", 200, nil)

	// confirmed=true with nothing pending is not an error: the session is
	// complete, so the submit grades outright.
	var out session.SubmitOutcome
	request(t, srv, "POST", base+"/submit", "taker", "alice", `{"confirmed":true}`, 200, &out)
	if !out.Graded || out.Result == nil {
		t.Fatalf("submit outcome: %+v", out)
	}
	if out.Result.EarnedPoints != 16 {
		t.Fatalf("EarnedPoints = %v, want 16", out.Result.EarnedPoints)
	}
}

func TestCreateSessionUnknownSimulation(t *testing.T) {
	srv, _, _ := testServer(t)
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"ghost"}`, 404, nil)
	request(t, srv, "POST", "/sessions", "taker", "alice", `{}`, 400, nil)
}

func TestSaveResponseRejectsBadPayloads(t *testing.T) {
	srv, _, _ := testServer(t)
	request(t, srv, "POST", "/simulations", "author", "ed", simJSON, 200, nil)

	var snap session.Snapshot
	request(t, srv, "POST", "/sessions", "taker", "alice", `{"simulation_id":"rev-rec-1"}`, 200, &snap)
	base := fmt.Sprintf("/sessions/%s/responses/", snap.ID)

	request(t, srv, "PUT", base+"r1", "taker", "alice", `{"kind":"essay"}`, 400, nil)
	request(t, srv, "PUT", base+"ghost", "taker", "alice", `{"kind":"numeric","value":1}`, 400, nil)
}
