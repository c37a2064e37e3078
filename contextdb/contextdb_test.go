package contextdb

import (
	"testing"

	"github.com/decompile/sleighcore/addr"
)

var ramSpace = &addr.AddrSpace{Name: "ram", Index: 2, Size: 0x10000}

func a(offset uint64) addr.Address { return addr.NewAddress(ramSpace, offset) }

func TestRegisterVariableRejectsWordStraddle(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("straddle", 30, 34); err == nil {
		t.Fatal("expected an error for a field spanning two words")
	}
}

func TestRegisterVariableRejectsAfterFirstPaint(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("mode", 0, 2); err != nil {
		t.Fatalf("RegisterVariable: %v", err)
	}
	if err := db.SetVariable("mode", a(0x1000), 1); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := db.RegisterVariable("late", 2, 4); err == nil {
		t.Fatal("expected registration after first paint to fail")
	}
}

func TestDefaultValueAppliesBeforeAnyPaint(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("mode", 0, 4); err != nil {
		t.Fatalf("RegisterVariable: %v", err)
	}
	if err := db.SetVariableDefault("mode", 7); err != nil {
		t.Fatalf("SetVariableDefault: %v", err)
	}
	got, err := db.GetVariableValue("mode", a(0x4000))
	if err != nil {
		t.Fatalf("GetVariableValue: %v", err)
	}
	if got != 7 {
		t.Errorf("GetVariableValue (unpainted) = %d, want 7", got)
	}
}

// TestSetVariablePaintsForwardUntilExplicitBoundary is the literal
// painting-boundary property: a SetVariable at addr A propagates to every
// later split up to, but not including, a split where the same field was
// already explicitly set.
func TestSetVariablePaintsForwardUntilExplicitBoundary(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("mode", 0, 4); err != nil {
		t.Fatalf("RegisterVariable: %v", err)
	}

	if err := db.SetVariable("mode", a(0x2000), 1); err != nil {
		t.Fatalf("SetVariable @0x2000: %v", err)
	}
	if err := db.SetVariable("mode", a(0x3000), 2); err != nil {
		t.Fatalf("SetVariable @0x3000: %v", err)
	}

	cases := []struct {
		at   addr.Address
		want uint32
	}{
		{a(0x1000), 0}, // before any paint: default
		{a(0x2000), 1}, // exactly at the first explicit set
		{a(0x2800), 1}, // painted forward from 0x2000
		{a(0x3000), 2}, // second explicit set
		{a(0x4000), 2}, // painted forward from 0x3000
	}
	for _, c := range cases {
		got, err := db.GetVariableValue("mode", c.at)
		if err != nil {
			t.Fatalf("GetVariableValue(%s): %v", c.at, err)
		}
		if got != c.want {
			t.Errorf("GetVariableValue(%s) = %d, want %d", c.at, got, c.want)
		}
	}

	// Repainting at 0x2000 with a later value must not cross the explicit
	// boundary already established at 0x3000.
	if err := db.SetVariable("mode", a(0x2000), 9); err != nil {
		t.Fatalf("SetVariable re-paint: %v", err)
	}
	got, err := db.GetVariableValue("mode", a(0x3000))
	if err != nil {
		t.Fatalf("GetVariableValue: %v", err)
	}
	if got != 2 {
		t.Errorf("repaint at 0x2000 leaked past the explicit boundary at 0x3000: got %d, want 2", got)
	}
}

func TestSetVariableRegionForcesBothBoundaries(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("mode", 0, 4); err != nil {
		t.Fatalf("RegisterVariable: %v", err)
	}
	if err := db.SetVariableRegion("mode", a(0x1000), a(0x2000), 5); err != nil {
		t.Fatalf("SetVariableRegion: %v", err)
	}

	inside, err := db.GetVariableValue("mode", a(0x1800))
	if err != nil || inside != 5 {
		t.Errorf("GetVariableValue inside region = (%d,%v), want (5,nil)", inside, err)
	}
	after, err := db.GetVariableValue("mode", a(0x2000))
	if err != nil || after != 0 {
		t.Errorf("GetVariableValue at region end = (%d,%v), want (0,nil) (end is exclusive)", after, err)
	}
}

func TestGetContextBoundedReportsCoveringRange(t *testing.T) {
	db := New()
	if err := db.RegisterVariable("mode", 0, 4); err != nil {
		t.Fatalf("RegisterVariable: %v", err)
	}
	if err := db.SetVariable("mode", a(0x2000), 1); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := db.SetVariable("mode", a(0x3000), 2); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}

	_, lo, hi := db.GetContextBounded(a(0x2500))
	if !lo.Equal(a(0x2000)) {
		t.Errorf("lo = %s, want 0x2000", lo)
	}
	if !hi.Equal(a(0x2fff)) {
		t.Errorf("hi = %s, want 0x2fff", hi)
	}
}

func TestUnknownVariableIsAnError(t *testing.T) {
	db := New()
	if _, err := db.GetVariableValue("nope", a(0)); err == nil {
		t.Fatal("expected an error for an unregistered variable")
	}
}

func TestGetTrackedValueTrimsToRequestedWidth(t *testing.T) {
	db := New()
	point := a(0x1000)
	loc := a(0x2000)
	db.AddTracked(point, Tracked{Loc: loc, Size: 4, Val: 0x11223344, Start: point, End: a(0x1100)})

	got, ok := db.GetTrackedValue(loc, 2, false, point)
	if !ok {
		t.Fatal("expected a tracked value hit")
	}
	if got != 0x3344 {
		t.Errorf("GetTrackedValue (little-endian low half) = %#x, want 0x3344", got)
	}

	gotHi, ok := db.GetTrackedValue(a(0x2002), 2, false, point)
	if !ok || gotHi != 0x1122 {
		t.Errorf("GetTrackedValue (little-endian high half) = (%#x,%v), want (0x1122,true)", gotHi, ok)
	}

	if _, ok := db.GetTrackedValue(a(0x2000), 8, false, point); ok {
		t.Error("expected a request wider than the tracked region to miss")
	}
}

func TestGetTrackedValueBigEndianByteOrder(t *testing.T) {
	db := New()
	point := a(0x1000)
	loc := a(0x2000)
	db.AddTracked(point, Tracked{Loc: loc, Size: 4, Val: 0x11223344})

	got, ok := db.GetTrackedValue(loc, 2, true, point)
	if !ok || got != 0x1122 {
		t.Errorf("GetTrackedValue (big-endian high half) = (%#x,%v), want (0x1122,true)", got, ok)
	}
}
