package recur

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

// regularLookup answers every date with an occurrence starting at that
// date and lasting an hour, modified at modTime.
func regularLookup(modTime time.Time) Lookup {
	return LookupFunc(func(ctx context.Context, d time.Time) (Occurrence, error) {
		return Occurrence{Start: d, End: d.Add(time.Hour), LastModified: modTime}, nil
	})
}

func testExpander(t *testing.T) *Expander {
	t.Helper()
	return NewExpander(log.New(testWriter{t}, "[recur] ", 0))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func collect(t *testing.T, e *Expander, s Series, lookup Lookup, from, to, modifiedSince time.Time) ([]Occurrence, []Tombstone) {
	t.Helper()
	var occs []Occurrence
	tombs, err := e.Expand(context.Background(), s, lookup, from, to, modifiedSince, func(o Occurrence) error {
		occs = append(occs, o)
		return nil
	})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	return occs, tombs
}

func TestExpandWeeklyWindow(t *testing.T) {
	// Series starts 2024-01-01, weekly, ends 2024-03-01. A window of
	// [2024-01-10, 2024-01-25] must contain exactly the occurrences on
	// 2024-01-15 (index 2) and 2024-01-22 (index 3).
	s := Series{
		ID:       "series-a",
		Start:    date(2024, time.January, 1),
		End:      date(2024, time.March, 1),
		Duration: time.Hour,
		Pattern:  Weekly,
	}

	occs, tombs := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		date(2024, time.January, 10), date(2024, time.January, 25), time.Time{})

	if len(tombs) != 0 {
		t.Errorf("expected no tombstones, got %d", len(tombs))
	}
	if len(occs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d: %+v", len(occs), occs)
	}
	if occs[0].Index != 2 || !sameDate(occs[0].Start, date(2024, time.January, 15)) {
		t.Errorf("first occurrence: got index %d start %v", occs[0].Index, occs[0].Start)
	}
	if occs[1].Index != 3 || !sameDate(occs[1].Start, date(2024, time.January, 22)) {
		t.Errorf("second occurrence: got index %d start %v", occs[1].Index, occs[1].Start)
	}
}

func TestExpandClampsToSeriesBounds(t *testing.T) {
	s := Series{
		ID:      "series-b",
		Start:   date(2024, time.February, 1),
		End:     date(2024, time.February, 5),
		Pattern: Daily,
	}

	// Window wider than the series on both sides.
	occs, _ := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		date(2024, time.January, 1), date(2024, time.December, 31), time.Time{})

	if len(occs) != 5 {
		t.Fatalf("expected 5 occurrences, got %d", len(occs))
	}
	if occs[0].Index != 0 || !sameDate(occs[0].Start, s.Start) {
		t.Errorf("first occurrence not clamped to series start: %+v", occs[0])
	}
	if !sameDate(occs[len(occs)-1].Start, s.End) {
		t.Errorf("last occurrence past series end: %+v", occs[len(occs)-1])
	}
}

func TestExpandZeroWindowUsesSeriesBounds(t *testing.T) {
	s := Series{
		ID:      "series-c",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 15),
		Pattern: Weekly,
	}

	occs, _ := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{})

	if len(occs) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occs))
	}
}

func TestExpandDeletedExceptionEmitsTombstone(t *testing.T) {
	deletedOn := date(2024, time.January, 8)
	s := Series{
		ID:      "series-d",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 22),
		Pattern: Weekly,
		Exceptions: []Exception{
			{OriginalDate: deletedOn, Deleted: true},
		},
	}

	occs, tombs := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{})

	for _, o := range occs {
		if sameDate(o.Start, deletedOn) {
			t.Errorf("deleted occurrence was emitted live: %+v", o)
		}
	}
	if len(tombs) != 1 {
		t.Fatalf("expected exactly 1 tombstone, got %d", len(tombs))
	}
	if tombs[0].Index != 1 || !sameDate(tombs[0].Date, deletedOn) {
		t.Errorf("tombstone mismatch: %+v", tombs[0])
	}
}

func TestExpandReplacementException(t *testing.T) {
	moved := date(2024, time.January, 8)
	replacementStart := moved.Add(3 * time.Hour)
	s := Series{
		ID:      "series-e",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 15),
		Pattern: Weekly,
		Exceptions: []Exception{
			{
				OriginalDate: moved,
				Replacement: &Occurrence{
					Start: replacementStart,
					End:   replacementStart.Add(30 * time.Minute),
				},
			},
		},
	}

	occs, _ := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{})

	if len(occs) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occs))
	}
	if !occs[1].Start.Equal(replacementStart) {
		t.Errorf("replacement start not used: got %v want %v", occs[1].Start, replacementStart)
	}
	if occs[1].Index != 1 {
		t.Errorf("replacement occurrence index: got %d want 1", occs[1].Index)
	}
}

func TestExpandModifiedSinceFilter(t *testing.T) {
	oldMod := date(2024, time.January, 1)
	s := Series{
		ID:      "series-f",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 10),
		Pattern: Daily,
	}

	// Nothing modified since the cutoff: nothing emitted.
	occs, _ := collect(t, testExpander(t), s, regularLookup(oldMod),
		time.Time{}, time.Time{}, date(2024, time.June, 1))
	if len(occs) != 0 {
		t.Errorf("expected no occurrences past modified-since filter, got %d", len(occs))
	}

	// Cutoff equal to the modification time: emitted (>= comparison).
	occs, _ = collect(t, testExpander(t), s, regularLookup(oldMod),
		time.Time{}, time.Time{}, oldMod)
	if len(occs) != 10 {
		t.Errorf("expected 10 occurrences at equal cutoff, got %d", len(occs))
	}
}

func TestExpandUnknownPatternFails(t *testing.T) {
	s := Series{
		ID:      "series-g",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.February, 1),
		Pattern: Pattern(42),
	}

	_, err := testExpander(t).Expand(context.Background(), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{}, func(Occurrence) error { return nil })
	if !errors.Is(err, ErrUnknownPattern) {
		t.Fatalf("expected ErrUnknownPattern, got %v", err)
	}
}

func TestExpandSkipsMissingOccurrences(t *testing.T) {
	missing := date(2024, time.January, 3)
	lookup := LookupFunc(func(ctx context.Context, d time.Time) (Occurrence, error) {
		if sameDate(d, missing) {
			return Occurrence{}, ErrNoOccurrence
		}
		return Occurrence{Start: d, End: d.Add(time.Hour)}, nil
	})

	s := Series{
		ID:      "series-h",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 5),
		Pattern: Daily,
	}

	occs, tombs := collect(t, testExpander(t), s, lookup, time.Time{}, time.Time{}, time.Time{})
	if len(occs) != 4 {
		t.Fatalf("expected 4 occurrences (1 skipped), got %d", len(occs))
	}
	if len(tombs) != 0 {
		t.Errorf("transient lookup failure must not produce a tombstone, got %d", len(tombs))
	}
}

func TestExpandLookupErrorAborts(t *testing.T) {
	boom := errors.New("store unavailable")
	lookup := LookupFunc(func(ctx context.Context, d time.Time) (Occurrence, error) {
		return Occurrence{}, boom
	})

	s := Series{
		ID:      "series-i",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 5),
		Pattern: Daily,
	}

	_, err := testExpander(t).Expand(context.Background(), s, lookup,
		time.Time{}, time.Time{}, time.Time{}, func(Occurrence) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}

func TestExpandNoDuplicateIndices(t *testing.T) {
	s := Series{
		ID:      "series-j",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.June, 1),
		Pattern: Monthly,
	}

	occs, _ := collect(t, testExpander(t), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{})

	seen := make(map[int]bool)
	for i, o := range occs {
		if seen[o.Index] {
			t.Errorf("duplicate occurrence index %d", o.Index)
		}
		seen[o.Index] = true
		if i > 0 {
			gap := o.Start.Sub(occs[i-1].Start)
			want := time.Duration(s.Pattern.PeriodDays()) * 24 * time.Hour
			if gap != want {
				t.Errorf("occurrence gap %v, want %v", gap, want)
			}
		}
	}
}

func TestExpandYieldErrorStops(t *testing.T) {
	stop := errors.New("stop")
	s := Series{
		ID:      "series-k",
		Start:   date(2024, time.January, 1),
		End:     date(2024, time.January, 10),
		Pattern: Daily,
	}

	calls := 0
	_, err := testExpander(t).Expand(context.Background(), s, regularLookup(time.Time{}),
		time.Time{}, time.Time{}, time.Time{}, func(Occurrence) error {
			calls++
			return stop
		})
	if !errors.Is(err, stop) {
		t.Fatalf("expected yield error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expansion continued after yield error: %d calls", calls)
	}
}
