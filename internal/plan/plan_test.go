package plan

import (
	"testing"
	"time"
)

func validConditions() []Condition {
	return []Condition{
		{Kind: KindProximity, Proximity: &ProximityParams{Tolerance: 100}},
	}
}

func TestNewValidatesAndNormalises(t *testing.T) {
	p, err := New(" btc/usdt:usdt ", DirectionLong, 90000, validConditions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Symbol != "BTC/USDT:USDT" {
		t.Fatalf("symbol should be trimmed and upper-cased, got %q", p.Symbol)
	}
	if p.ID == "" || p.Status != StatusPending {
		t.Fatalf("new plan should be pending with an id, got %+v", p)
	}
}

func TestNewRejectsUnknownConditionKind(t *testing.T) {
	_, err := New("BTC/USDT:USDT", DirectionLong, 90000, []Condition{{Kind: "telepathy"}})
	if err == nil {
		t.Fatalf("unknown condition kinds must be rejected at creation")
	}
}

func TestNewRejectsBadDirectionAndEntry(t *testing.T) {
	if _, err := New("BTC/USDT:USDT", "sideways", 90000, validConditions()); err == nil {
		t.Fatalf("unknown direction must be rejected")
	}
	if _, err := New("BTC/USDT:USDT", DirectionLong, 0, validConditions()); err == nil {
		t.Fatalf("non-positive entry must be rejected")
	}
}

func TestNearestEntryPicksClosestLevel(t *testing.T) {
	p := &Plan{
		Entry: 90000,
		EntryLevels: []EntryLevel{
			{Price: 90000, Weight: 0.7},
			{Price: 88000, Weight: 0.3},
		},
	}

	if got := p.NearestEntry(88300); got != 88000 {
		t.Fatalf("nearest level to 88300 should be 88000, got %f", got)
	}
	if got := p.NearestEntry(89500); got != 90000 {
		t.Fatalf("nearest level to 89500 should be 90000, got %f", got)
	}
	if got := p.DistanceToEntry(88300); got != 300 {
		t.Fatalf("distance should use the nearest level, got %f", got)
	}
}

func TestTrackZoneRecordsEntryAndExit(t *testing.T) {
	p := &Plan{Entry: 90000, Tolerance: 100}
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	p.TrackZone(90050, t0)
	if p.ZoneEnteredAt == nil || !p.ZoneEnteredAt.Equal(t0) {
		t.Fatalf("entering the zone should stamp ZoneEnteredAt")
	}

	p.TrackZone(90500, t0.Add(time.Minute))
	if p.ZoneLeftAt == nil {
		t.Fatalf("leaving the zone should stamp ZoneLeftAt")
	}

	// 再次进入重置离场时间。
	p.TrackZone(90080, t0.Add(2*time.Minute))
	if p.ZoneLeftAt != nil {
		t.Fatalf("re-entry should clear ZoneLeftAt")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusExecuted, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusOrderPlaced} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	p := &Plan{
		ID:          "p1",
		Entry:       90000,
		EntryLevels: []EntryLevel{{Price: 90000, Weight: 1}},
		Conditions:  validConditions(),
	}
	p.MarkActivity(now)

	dup := p.Clone()
	dup.EntryLevels[0].Price = 1
	dup.Conditions[0].Kind = KindSession
	*dup.LastActivityAt = now.Add(time.Hour)

	if p.EntryLevels[0].Price != 90000 {
		t.Fatalf("clone must not share entry levels")
	}
	if p.Conditions[0].Kind != KindProximity {
		t.Fatalf("clone must not share conditions")
	}
	if !p.LastActivityAt.Equal(now.UTC()) {
		t.Fatalf("clone must not share timestamps")
	}
}
