package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/garage"
	"github.com/WessleyAI/wessley-garage/engine/querylog"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"github.com/google/go-cmp/cmp"
)

// --- stubs ---

type stubVehicles struct {
	garage   []domain.Vehicle
	err      error
	getCalls int
}

func (s *stubVehicles) GetUserVehicles(context.Context, string) ([]domain.Vehicle, error) {
	return s.garage, s.err
}

func (s *stubVehicles) GetVehicle(_ context.Context, _, id string) (*domain.Vehicle, error) {
	s.getCalls++
	for _, v := range s.garage {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, nil
}

type stubDocs struct {
	docs       []domain.DocumentPassage
	calls      int
	lastFilter *domain.VehicleFilter
	lastLimit  int
}

func (s *stubDocs) Retrieve(_ context.Context, _, _ string, filter *domain.VehicleFilter, limit int) []domain.DocumentPassage {
	s.calls++
	s.lastFilter, s.lastLimit = filter, limit
	return s.docs
}

type stubEvaluator struct {
	answer     domain.EvaluatedAnswer
	err        error
	calls      int
	lastSystem string
	lastDocs   []domain.DocumentPassage
}

func (s *stubEvaluator) Evaluate(_ context.Context, system, _ string, docs []domain.DocumentPassage) (domain.EvaluatedAnswer, error) {
	s.calls++
	s.lastSystem, s.lastDocs = system, docs
	return s.answer, s.err
}

type stubUsage struct {
	decision usage.Decision
	checkErr error
	trackErr error
	tracked  []map[string]string // ask metadata
	actions  []usage.Action
}

func (s *stubUsage) CheckLimit(context.Context, string, usage.Action) (usage.Decision, error) {
	return s.decision, s.checkErr
}

func (s *stubUsage) Track(_ context.Context, _ string, action usage.Action, meta map[string]string) error {
	s.actions = append(s.actions, action)
	if action == usage.ActionAsk {
		s.tracked = append(s.tracked, meta)
	}
	return s.trackErr
}

type stubLog struct {
	entries []querylog.Entry
	err     error
}

func (s *stubLog) Log(_ context.Context, e querylog.Entry) (string, error) {
	s.entries = append(s.entries, e)
	if s.err != nil {
		return "", s.err
	}
	return "q-1", nil
}

// --- fixtures ---

var (
	blueBeast = domain.Vehicle{ID: "v1", Make: "Subaru", Model: "WRX", Year: 2008, Nickname: "Blue Beast", CreatedAt: time.Unix(100, 0)}
	accord    = domain.Vehicle{ID: "v2", Make: "Honda", Model: "Accord", Year: 2015, CreatedAt: time.Unix(200, 0)}
	accordOld = domain.Vehicle{ID: "v3", Make: "Honda", Model: "Accord", Year: 2003, CreatedAt: time.Unix(50, 0)}
)

type fixture struct {
	vehicles *stubVehicles
	docs     *stubDocs
	eval     *stubEvaluator
	usage    *stubUsage
	log      *stubLog
	reg      *metrics.Registry
	svc      *Service
}

func newFixture(vehicles ...domain.Vehicle) *fixture {
	f := &fixture{
		vehicles: &stubVehicles{garage: vehicles},
		docs:     &stubDocs{},
		eval: &stubEvaluator{answer: domain.EvaluatedAnswer{
			Answer: "It takes 4.5 quarts.", Confidence: 0.82, ConsistencyScore: 1, UsedDocuments: []string{}, Candidates: 3,
		}},
		usage: &stubUsage{decision: usage.Decision{Allowed: true}},
		log:   &stubLog{},
		reg:   metrics.New(),
	}
	f.svc = New(Deps{
		Vehicles:  f.vehicles,
		Documents: f.docs,
		Evaluator: f.eval,
		Usage:     f.usage,
		Log:       f.log,
	}, DefaultOptions(), NewMetrics(f.reg), nil)
	return f
}

func (f *fixture) rendered(t *testing.T, want string) {
	t.Helper()
	if out := f.reg.Render(); !strings.Contains(out, want) {
		t.Errorf("metrics missing %q:\n%s", want, out)
	}
}

// --- tests ---

func TestAskAdoptsNicknamedVehicle(t *testing.T) {
	f := newFixture(blueBeast, accord)
	f.docs.docs = []domain.DocumentPassage{{SourceTitle: "WRX Owner Manual", Content: "Oil capacity 4.5 quarts.", RelevanceScore: 0.9}}
	f.eval.answer.UsedDocuments = []string{"WRX Owner Manual"}

	resp, err := f.svc.Ask(context.Background(), Request{
		UserID: "u1", Question: "what's the oil capacity on my Blue Beast", UseDocuments: true, Units: domain.DefaultUnits(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.EffectiveVehicleID != "v1" || !resp.VehicleSwitched || resp.MatchConfidence != garage.ConfidenceHigh {
		t.Fatalf("vehicle not adopted: %+v", resp)
	}
	if resp.NeedsVehicleConfirmation != "" {
		t.Fatalf("high confidence must not ask for confirmation: %q", resp.NeedsVehicleConfirmation)
	}
	want := &domain.VehicleFilter{Make: "Subaru", Model: "WRX", Year: 2008}
	if diff := cmp.Diff(want, f.docs.lastFilter); diff != "" {
		t.Errorf("retrieval filter (-want +got):\n%s", diff)
	}
	if f.docs.lastLimit != 3 {
		t.Errorf("limit = %d", f.docs.lastLimit)
	}
	if !strings.Contains(f.eval.lastSystem, "Blue Beast") || !strings.Contains(f.eval.lastSystem, "WRX Owner Manual") {
		t.Errorf("system prompt lacks vehicle or documents:\n%s", f.eval.lastSystem)
	}
	if resp.DocumentsFound != 1 || resp.QueryID != "q-1" {
		t.Errorf("response %+v", resp)
	}
	if diff := cmp.Diff([]string{"WRX Owner Manual"}, resp.UsedDocuments); diff != "" {
		t.Error(diff)
	}

	if len(f.usage.tracked) != 1 || f.usage.tracked[0]["vehicle_id"] != "v1" {
		t.Errorf("tracked %+v", f.usage.tracked)
	}
	if diff := cmp.Diff([]usage.Action{usage.ActionAsk, usage.ActionDocumentSearch}, f.usage.actions); diff != "" {
		t.Errorf("tracked actions (-want +got):\n%s", diff)
	}
	if len(f.log.entries) != 1 || f.log.entries[0].Answer != "It takes 4.5 quarts." || f.log.entries[0].VehicleID != "v1" {
		t.Errorf("logged %+v", f.log.entries)
	}
	f.rendered(t, `garage_ask_total{outcome="ok"} 1`)
	f.rendered(t, `garage_vehicle_match_total{confidence="high"} 1`)
}

func TestAskUnknownModelAdoptsNothing(t *testing.T) {
	f := newFixture(blueBeast, accord)
	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "how do I reset the Civic maintenance light", UseDocuments: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EffectiveVehicleID != "" || resp.NeedsVehicleConfirmation != "" {
		t.Fatalf("no vehicle should be adopted: %+v", resp)
	}
	if f.docs.lastFilter != nil {
		t.Fatalf("retrieval should be unfiltered, got %+v", f.docs.lastFilter)
	}
	if strings.Contains(f.eval.lastSystem, "Vehicle in question") {
		t.Fatal("vehicle block should be omitted")
	}
}

func TestAskWithoutDocuments(t *testing.T) {
	f := newFixture(blueBeast)
	f.eval.answer.UsedDocuments = nil

	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "what's the oil capacity on my Blue Beast", UseDocuments: true})
	if err != nil {
		t.Fatalf("zero passages must still answer: %v", err)
	}
	if resp.Answer == "" || resp.UsedDocuments == nil || len(resp.UsedDocuments) != 0 || resp.DocumentsFound != 0 {
		t.Fatalf("response %+v", resp)
	}
	if strings.Contains(f.eval.lastSystem, "Reference documents") {
		t.Fatal("document block should be omitted")
	}
}

func TestAskDocumentsDisabled(t *testing.T) {
	f := newFixture(blueBeast)
	if _, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "oil capacity?"}); err != nil {
		t.Fatal(err)
	}
	if f.docs.calls != 0 {
		t.Fatal("retriever should not be called when documents are disabled")
	}
	if diff := cmp.Diff([]usage.Action{usage.ActionAsk}, f.usage.actions); diff != "" {
		t.Errorf("an ask without documents is not a search (-want +got):\n%s", diff)
	}
}

func TestAskMediumMatchAsksForConfirmation(t *testing.T) {
	f := newFixture(blueBeast, accord, accordOld)
	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "honda accord brake pads", VehicleID: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EffectiveVehicleID != "v1" || resp.VehicleSwitched {
		t.Fatalf("current vehicle must stay in effect: %+v", resp)
	}
	if resp.MatchConfidence != garage.ConfidenceMedium || resp.SuggestedVehicleID != "v2" {
		t.Fatalf("expected medium match on newest Accord: %+v", resp)
	}
	if !strings.Contains(resp.NeedsVehicleConfirmation, "2015 Honda Accord") {
		t.Fatalf("prompt %q", resp.NeedsVehicleConfirmation)
	}
}

func TestAskExplicitVehicle(t *testing.T) {
	f := newFixture(blueBeast, accord)
	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "what oil should I use", VehicleID: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EffectiveVehicleID != "v2" || resp.VehicleSwitched {
		t.Fatalf("explicit vehicle should be in effect: %+v", resp)
	}
}

func TestAskVehicleNotFound(t *testing.T) {
	f := newFixture(blueBeast)
	_, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "oil?", VehicleID: "nope"})
	if !errors.Is(err, domain.ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}
	if f.eval.calls != 0 {
		t.Fatal("no model call expected")
	}
	f.rendered(t, `garage_ask_total{outcome="vehicle_not_found"} 1`)
}

func TestAskPrefetchedGarage(t *testing.T) {
	f := newFixture()
	f.vehicles.err = errors.New("must not be called")
	resp, err := f.svc.Ask(context.Background(), Request{
		UserID: "u1", Question: "Blue Beast tire pressure", Garage: []domain.Vehicle{blueBeast},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.EffectiveVehicleID != "v1" || f.vehicles.getCalls != 0 {
		t.Fatalf("prefetched garage not used: %+v", resp)
	}
}

func TestAskGarageUnavailable(t *testing.T) {
	f := newFixture()
	f.vehicles.err = errors.New("neo4j down")
	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "Blue Beast tire pressure"})
	if err != nil {
		t.Fatalf("garage failure should degrade: %v", err)
	}
	if resp.EffectiveVehicleID != "" {
		t.Fatalf("response %+v", resp)
	}
}

func TestAskValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty question", Request{UserID: "u1", Question: "   "}, domain.ErrEmptyQuestion},
		{"missing user", Request{Question: "oil?"}, domain.ErrMissingUser},
		{"injection", Request{UserID: "u1", Question: "'; DROP TABLE users; --"}, domain.ErrQueryInjection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(blueBeast)
			f.usage.checkErr = errors.New("must not be called")
			_, err := f.svc.Ask(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.eval.calls != 0 || f.docs.calls != 0 || len(f.usage.tracked) != 0 {
				t.Fatal("no collaborator should be called")
			}
			f.rendered(t, `garage_ask_total{outcome="invalid"} 1`)
		})
	}
}

func TestAskUsageDenied(t *testing.T) {
	f := newFixture(blueBeast)
	f.usage.decision = usage.Decision{Reason: "Daily limit reached (3/3 questions used)."}

	_, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "oil?", UseDocuments: true})
	if !errors.Is(err, domain.ErrUpgradeRequired) {
		t.Fatalf("expected upgrade required, got %v", err)
	}
	var denied *domain.UsageDeniedError
	if !errors.As(err, &denied) || !strings.Contains(denied.Reason, "3/3") {
		t.Fatalf("denial reason lost: %v", err)
	}
	if f.eval.calls != 0 || f.docs.calls != 0 {
		t.Fatal("denied requests must not reach retrieval or the model")
	}
	if len(f.usage.tracked) != 0 || len(f.log.entries) != 0 {
		t.Fatal("denied requests are not tracked or logged")
	}
	f.rendered(t, `garage_ask_total{outcome="denied"} 1`)
}

func TestAskSynthesisFailure(t *testing.T) {
	f := newFixture(blueBeast)
	f.eval.err = domain.ErrSynthesisFailed

	_, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "oil?"})
	if !errors.Is(err, domain.ErrSynthesisFailed) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable synthesis failure, got %v", err)
	}
	if len(f.usage.tracked) != 0 || len(f.log.entries) != 0 {
		t.Fatal("failed asks are not tracked or logged")
	}
	f.rendered(t, `garage_ask_total{outcome="synthesis_failed"} 1`)
}

func TestAskSideEffectFailuresAreSwallowed(t *testing.T) {
	f := newFixture(blueBeast)
	f.usage.trackErr = errors.New("sqlite locked")
	f.log.err = errors.New("nats closed")

	resp, err := f.svc.Ask(context.Background(), Request{UserID: "u1", Question: "oil?"})
	if err != nil {
		t.Fatalf("logging failures must not fail the answer: %v", err)
	}
	if resp.Answer == "" || resp.QueryID != "" {
		t.Fatalf("response %+v", resp)
	}
}

func TestAskCancelled(t *testing.T) {
	f := newFixture(blueBeast)
	ctx, cancel := context.WithCancel(context.Background())
	f.eval.err = errors.New("sampling aborted")
	cancel()

	_, err := f.svc.Ask(ctx, Request{UserID: "u1", Question: "oil?"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.usage.tracked) != 0 {
		t.Fatal("cancelled asks are not tracked")
	}
}

func TestAskWithoutOptionalCollaborators(t *testing.T) {
	eval := &stubEvaluator{answer: domain.EvaluatedAnswer{Answer: "Check the fuse."}}
	svc := New(Deps{Documents: &stubDocs{}, Evaluator: eval}, Options{}, nil, nil)
	resp, err := svc.Ask(context.Background(), Request{UserID: "u1", Question: "why won't my radio turn on", Engine: "EJ255", Notes: "aftermarket head unit"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "Check the fuse." || resp.UsedDocuments == nil {
		t.Fatalf("response %+v", resp)
	}
	if !strings.Contains(eval.lastSystem, "EJ255") || !strings.Contains(eval.lastSystem, "aftermarket head unit") {
		t.Fatalf("free-text vehicle details missing:\n%s", eval.lastSystem)
	}
}
