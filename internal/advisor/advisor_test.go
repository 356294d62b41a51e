package advisor

import (
	"testing"
	"time"

	"postflow/internal/store"
)

func sample(d time.Weekday, h int, engagement float64) store.EngagementSample {
	return store.EngagementSample{Weekday: d, Hour: h, Engagement: engagement}
}

func TestBestHoursRanksByMeanEngagement(t *testing.T) {
	t.Parallel()
	samples := []store.EngagementSample{
		sample(time.Monday, 9, 2.0),
		sample(time.Tuesday, 9, 4.0), // hour 9 mean 3.0
		sample(time.Monday, 18, 5.0), // hour 18 mean 5.0
		sample(time.Monday, 12, 1.0), // hour 12 mean 1.0
	}

	got := BestHours(samples)
	want := []int{18, 9, 12}
	if len(got) != len(want) {
		t.Fatalf("BestHours = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("BestHours = %v, want %v", got, want)
		}
	}
}

func TestBestHoursTieBreaksOnEarlierHour(t *testing.T) {
	t.Parallel()
	samples := []store.EngagementSample{
		sample(time.Monday, 20, 3.0),
		sample(time.Monday, 8, 3.0),
	}
	got := BestHours(samples)
	if len(got) != 2 || got[0] != 8 || got[1] != 20 {
		t.Fatalf("BestHours = %v, want [8 20]", got)
	}
}

func TestBestHoursEmptyInput(t *testing.T) {
	t.Parallel()
	if got := BestHours(nil); len(got) != 0 {
		t.Fatalf("BestHours(nil) = %v, want empty", got)
	}
}

func TestBestDays(t *testing.T) {
	t.Parallel()
	samples := []store.EngagementSample{
		sample(time.Friday, 9, 6.0),
		sample(time.Monday, 9, 2.0),
		sample(time.Monday, 12, 4.0), // Monday mean 3.0
	}
	got := BestDays(samples)
	if len(got) != 2 || got[0] != time.Friday || got[1] != time.Monday {
		t.Fatalf("BestDays = %v, want [Friday Monday]", got)
	}
}

func TestHeatmapMeans(t *testing.T) {
	t.Parallel()
	samples := []store.EngagementSample{
		sample(time.Wednesday, 14, 2.0),
		sample(time.Wednesday, 14, 4.0),
		sample(time.Sunday, 0, 7.5),
	}
	hm := Heatmap(samples)
	if got := hm[int(time.Wednesday)][14]; got != 3.0 {
		t.Fatalf("Wednesday 14h = %v, want 3.0", got)
	}
	if got := hm[int(time.Sunday)][0]; got != 7.5 {
		t.Fatalf("Sunday 0h = %v, want 7.5", got)
	}
	if got := hm[int(time.Monday)][9]; got != 0 {
		t.Fatalf("empty cell = %v, want 0", got)
	}
}

func TestPlanUsesTopHoursInClockOrder(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 2, 15, 30, 0, 0, time.UTC)

	// Ranked best-first: 18 beats 9 beats 12. Two posts per day means
	// hours 9 and 18 only, in clock order.
	slots := Plan(now, []int{18, 9, 12}, 2, 3)
	if len(slots) != 6 {
		t.Fatalf("len = %d, want 6", len(slots))
	}
	for d := 0; d < 3; d++ {
		first := slots[d*2]
		second := slots[d*2+1]
		wantDay := now.Day() + d
		if first.Day() != wantDay || first.Hour() != 9 {
			t.Fatalf("day %d first slot = %v, want %d-th at 09:00", d, first, wantDay)
		}
		if second.Day() != wantDay || second.Hour() != 18 {
			t.Fatalf("day %d second slot = %v, want %d-th at 18:00", d, second, wantDay)
		}
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].After(slots[i-1]) {
			t.Fatalf("plan not chronological: %v", slots)
		}
	}
}

func TestPlanClampsPostsPerDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	slots := Plan(now, []int{9}, 5, 2)
	if len(slots) != 2 {
		t.Fatalf("len = %d, want 2 (one ranked hour, two days)", len(slots))
	}
}

func TestPlanEmptyInputs(t *testing.T) {
	t.Parallel()
	now := time.Now()
	if got := Plan(now, nil, 2, 2); got != nil {
		t.Fatalf("Plan with no hours = %v, want nil", got)
	}
	if got := Plan(now, []int{9}, 0, 2); got != nil {
		t.Fatalf("Plan with zero postsPerDay = %v, want nil", got)
	}
}
