package usage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestLimiter(store Store, pub *recordingPub) *Limiter {
	l := NewLimiter(store, nil, nil)
	if pub != nil {
		l.pub = pub
	}
	l.now = func() time.Time { return noon }
	return l
}

func seed(t *testing.T, s *SQLiteStore, user string, action Action, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Record(context.Background(), Event{UserID: user, Action: action, At: at}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	for i := 0; i < 2; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatal(err)
		}
		s.Close()
	}
}

func TestOpenSQLiteInMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	seed(t, s, "u1", ActionAsk, 2, noon)
	n, err := s.Count(context.Background(), "u1", ActionAsk, dayStart(noon))
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestFreeTierDailyLimit(t *testing.T) {
	s := openStore(t)
	l := newTestLimiter(s, nil)
	ctx := context.Background()

	seed(t, s, "u1", ActionAsk, 5, noon.Add(-24*time.Hour))
	seed(t, s, "u1", ActionAsk, 2, noon.Add(-time.Hour))

	d, err := l.CheckLimit(ctx, "u1", ActionAsk)
	if err != nil || !d.Allowed {
		t.Fatalf("third ask of the day should be allowed: %+v, %v", d, err)
	}
	seed(t, s, "u1", ActionAsk, 1, noon)
	d, _ = l.CheckLimit(ctx, "u1", ActionAsk)
	if d.Allowed {
		t.Fatal("fourth ask of the day should be denied")
	}
	if !strings.Contains(d.Reason, "3/3") || !strings.Contains(d.Reason, "Weekend Warrior") {
		t.Fatalf("reason = %q", d.Reason)
	}

	d, _ = l.CheckLimit(ctx, "u1", ActionDocumentSearch)
	if !d.Allowed {
		t.Fatal("searches are not metered")
	}
}

func TestWeekendWarriorMonthlyLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.SetTier(ctx, "u2", WeekendWarrior); err != nil {
		t.Fatal(err)
	}
	l := newTestLimiter(s, nil)

	seed(t, s, "u2", ActionAsk, 49, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	seed(t, s, "u2", ActionAsk, 30, time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC))
	if d, _ := l.CheckLimit(ctx, "u2", ActionAsk); !d.Allowed {
		t.Fatalf("49 of 50 should allow: %+v", d)
	}
	seed(t, s, "u2", ActionAsk, 1, noon)
	d, _ := l.CheckLimit(ctx, "u2", ActionAsk)
	if d.Allowed || !strings.Contains(d.Reason, "50/50") {
		t.Fatalf("expected monthly denial, got %+v", d)
	}
}

func TestMasterTechUnlimited(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.SetTier(ctx, "u3", MasterTech); err != nil {
		t.Fatal(err)
	}
	seed(t, s, "u3", ActionAsk, 300, noon)
	seed(t, s, "u3", ActionDocumentUpload, 300, noon)
	l := newTestLimiter(s, nil)
	for _, a := range []Action{ActionAsk, ActionDocumentUpload} {
		if d, _ := l.CheckLimit(ctx, "u3", a); !d.Allowed {
			t.Fatalf("%s denied for master tech: %+v", a, d)
		}
	}
}

func TestDocumentUploadLimits(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newTestLimiter(s, nil)

	if d, _ := l.CheckLimit(ctx, "free", ActionDocumentUpload); d.Allowed {
		t.Fatal("free tier cannot upload")
	}

	if err := s.SetTier(ctx, "ww", WeekendWarrior); err != nil {
		t.Fatal(err)
	}
	seed(t, s, "ww", ActionDocumentUpload, 20, noon.AddDate(0, -3, 0))
	d, _ := l.CheckLimit(ctx, "ww", ActionDocumentUpload)
	if d.Allowed || !strings.Contains(d.Reason, "20/20") {
		t.Fatalf("upload limit is lifetime, got %+v", d)
	}
}

func TestTierOverrides(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.SetTier(ctx, "u4", WeekendWarrior); err != nil {
		t.Fatal(err)
	}

	tier, err := s.Tier(ctx, "u4", noon)
	if err != nil || tier != WeekendWarrior {
		t.Fatalf("tier = %q, %v", tier, err)
	}

	if err := s.SetOverride(ctx, "u4", FreeTier, noon.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if tier, _ := s.Tier(ctx, "u4", noon); tier != WeekendWarrior {
		t.Fatalf("expired override applied: %q", tier)
	}

	if err := s.SetOverride(ctx, "u4", FreeTier, noon.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOverride(ctx, "u4", MasterTech, noon.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if tier, _ := s.Tier(ctx, "u4", noon); tier != MasterTech {
		t.Fatalf("most recent override should win, got %q", tier)
	}
	if tier, _ := s.Tier(ctx, "u4", noon.Add(2*time.Hour)); tier != WeekendWarrior {
		t.Fatalf("after expiry the assigned tier applies, got %q", tier)
	}

	if tier, _ := s.Tier(ctx, "nobody", noon); tier != FreeTier {
		t.Fatalf("unknown user should be free tier, got %q", tier)
	}
	if err := s.SetTier(ctx, "u4", Tier("platinum")); err == nil {
		t.Fatal("unknown tier should be rejected")
	}
}

type failingStore struct{ err error }

func (f failingStore) Tier(context.Context, string, time.Time) (Tier, error) { return "", f.err }
func (f failingStore) Count(context.Context, string, Action, time.Time) (int, error) {
	return 0, f.err
}
func (f failingStore) Record(context.Context, Event) error { return f.err }

func TestCheckFailsOpen(t *testing.T) {
	l := newTestLimiter(failingStore{err: errors.New("disk I/O error")}, nil)
	d, err := l.CheckLimit(context.Background(), "u1", ActionAsk)
	if err != nil || !d.Allowed {
		t.Fatalf("store failure should allow: %+v, %v", d, err)
	}
	d, err = l.CheckVehicleLimit(context.Background(), "u1", 10)
	if err != nil || !d.Allowed {
		t.Fatalf("store failure should allow vehicles: %+v, %v", d, err)
	}
}

func TestCheckCancelled(t *testing.T) {
	l := newTestLimiter(failingStore{err: context.Canceled}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.CheckLimit(ctx, "u1", ActionAsk); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCheckVehicleLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newTestLimiter(s, nil)

	if d, _ := l.CheckVehicleLimit(ctx, "free", 0); !d.Allowed {
		t.Fatal("first vehicle should be allowed")
	}
	d, _ := l.CheckVehicleLimit(ctx, "free", 1)
	if d.Allowed || !strings.Contains(d.Reason, "1/1") {
		t.Fatalf("second vehicle should be denied on free tier: %+v", d)
	}
	if err := s.SetTier(ctx, "paid", WeekendWarrior); err != nil {
		t.Fatal(err)
	}
	if d, _ := l.CheckVehicleLimit(ctx, "paid", 12); !d.Allowed {
		t.Fatal("paid tiers have unlimited vehicles")
	}
}

type recordingPub struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (p *recordingPub) PublishMsg(m *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

func TestTrackRecordsAndPublishes(t *testing.T) {
	s := openStore(t)
	pub := &recordingPub{}
	l := newTestLimiter(s, pub)
	ctx := context.Background()

	if err := l.Track(ctx, "u1", ActionAsk, map[string]string{"vehicle_id": "v1"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx, "u1", ActionAsk, dayStart(noon)); n != 1 {
		t.Fatalf("count = %d", n)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != SubjectTracked {
		t.Fatalf("published %+v", pub.msgs)
	}
	var e Event
	if err := json.Unmarshal(pub.msgs[0].Data, &e); err != nil {
		t.Fatal(err)
	}
	if e.UserID != "u1" || e.Action != ActionAsk || e.Metadata["vehicle_id"] != "v1" || !e.At.Equal(noon) {
		t.Fatalf("event %+v", e)
	}
}

func TestTrackPublishFailureIsIgnored(t *testing.T) {
	s := openStore(t)
	l := newTestLimiter(s, &recordingPub{err: nats.ErrConnectionClosed})
	if err := l.Track(context.Background(), "u1", ActionDocumentSearch, nil); err != nil {
		t.Fatalf("publish failure should not fail Track: %v", err)
	}
}

func TestTrackStoreFailure(t *testing.T) {
	l := newTestLimiter(failingStore{err: errors.New("read-only")}, nil)
	if err := l.Track(context.Background(), "u1", ActionAsk, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestStats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	l := newTestLimiter(s, nil)
	seed(t, s, "u1", ActionAsk, 2, noon)
	seed(t, s, "u1", ActionAsk, 4, noon.AddDate(0, 0, -2))
	seed(t, s, "u1", ActionDocumentSearch, 3, noon)
	seed(t, s, "u1", ActionDocumentSearch, 1, noon.AddDate(0, -2, 0))

	st, err := l.Stats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Tier != FreeTier || st.AsksToday != 2 || st.AsksMonth != 6 || st.DocumentSearches != 3 {
		t.Fatalf("stats %+v", st)
	}
	if st.RemainingAsks == nil || *st.RemainingAsks != 1 || !st.CanAsk {
		t.Fatalf("remaining %+v", st)
	}

	if err := s.SetTier(ctx, "u1", MasterTech); err != nil {
		t.Fatal(err)
	}
	st, _ = l.Stats(ctx, "u1")
	if st.RemainingAsks != nil {
		t.Fatal("unlimited tiers report no remaining count")
	}
}

func TestLimitsForUnknownTier(t *testing.T) {
	if LimitsFor(Tier("gold")) != LimitsFor(FreeTier) {
		t.Fatal("unknown tier should fall back to free")
	}
}
