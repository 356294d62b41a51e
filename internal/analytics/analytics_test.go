package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

type fakeDB struct {
	posts          int64
	activeChannels int64
	withPhoto      int64
	total          int64
	reach          int64
	published      []time.Time
	views          int64
	shares         int64
	reactions      int64
	growth         []store.GrowthPoint
	channels       map[int64]store.Channel
}

func (f *fakeDB) CountPosts(context.Context) (int64, error)          { return f.posts, nil }
func (f *fakeDB) CountActiveChannels(context.Context) (int64, error) { return f.activeChannels, nil }
func (f *fakeDB) CountPostsWithPhoto(context.Context) (int64, int64, error) {
	return f.withPhoto, f.total, nil
}
func (f *fakeDB) SumReach(context.Context) (int64, error) { return f.reach, nil }

func (f *fakeDB) PublishedTimes(_ context.Context, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, t := range f.published {
		if !t.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeDB) EngagementTotals(context.Context, int64) (int64, int64, int64, error) {
	return f.views, f.shares, f.reactions, nil
}

func (f *fakeDB) GrowthPoints(context.Context, int64, time.Time) ([]store.GrowthPoint, error) {
	return f.growth, nil
}

func (f *fakeDB) GetChannel(_ context.Context, id int64) (store.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return store.Channel{}, store.ErrNotFound
	}
	return ch, nil
}

func TestGeneralStats(t *testing.T) {
	t.Parallel()
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	db := &fakeDB{
		posts:          42,
		activeChannels: 3,
		reach:          9000,
		published: []time.Time{
			midnight.Add(time.Minute),     // today
			midnight.Add(-2 * time.Hour),  // yesterday
			midnight.Add(2 * time.Minute), // today
		},
	}
	s := New(db, logx.Nop())

	got, err := s.GeneralStats(context.Background())
	if err != nil {
		t.Fatalf("GeneralStats: %v", err)
	}
	if got.TotalPosts != 42 || got.ActiveChannels != 3 || got.TotalReach != 9000 {
		t.Fatalf("stats = %+v", got)
	}
	if got.PostsToday != 2 {
		t.Fatalf("PostsToday = %d, want 2", got.PostsToday)
	}
}

func TestActivityByHour(t *testing.T) {
	t.Parallel()
	day := time.Now().Add(-time.Hour)
	at := func(h int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), h, 30, 0, 0, day.Location())
	}
	db := &fakeDB{published: []time.Time{at(9), at(9), at(17)}}
	s := New(db, logx.Nop())

	hist, err := s.ActivityByHour(context.Background(), 7)
	if err != nil {
		t.Fatalf("ActivityByHour: %v", err)
	}
	if hist[9] != 2 || hist[17] != 1 {
		t.Fatalf("hist[9]=%d hist[17]=%d, want 2 and 1", hist[9], hist[17])
	}
	var total int
	for _, n := range hist {
		total += n
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
}

func TestContentTypes(t *testing.T) {
	t.Parallel()
	s := New(&fakeDB{withPhoto: 4, total: 10}, logx.Nop())
	got, err := s.ContentTypes(context.Background())
	if err != nil {
		t.Fatalf("ContentTypes: %v", err)
	}
	if got.WithPhoto != 4 || got.WithoutPhoto != 6 {
		t.Fatalf("content types = %+v, want 4/6", got)
	}
}

func TestEngagementMetricsRate(t *testing.T) {
	t.Parallel()
	s := New(&fakeDB{views: 300, shares: 6, reactions: 3}, logx.Nop())
	got, err := s.EngagementMetrics(context.Background(), 0)
	if err != nil {
		t.Fatalf("EngagementMetrics: %v", err)
	}
	if got.Rate != 3.0 { // (6+3)/300*100
		t.Fatalf("rate = %v, want 3.0", got.Rate)
	}

	// No views means no rate, not a division by zero.
	s = New(&fakeDB{}, logx.Nop())
	got, err = s.EngagementMetrics(context.Background(), 0)
	if err != nil || got.Rate != 0 {
		t.Fatalf("empty rate = %v, %v; want 0", got.Rate, err)
	}
}

func TestChannelGrowthProjection(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{
		channels: map[int64]store.Channel{1: {ID: 1}},
		growth: []store.GrowthPoint{
			{Date: day, MemberCount: 100},
			{Date: day.AddDate(0, 0, 1), MemberCount: 110},
			{Date: day.AddDate(0, 0, 2), MemberCount: 120},
		},
	}
	s := New(db, logx.Nop())

	got, err := s.ChannelGrowth(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("ChannelGrowth: %v", err)
	}
	if len(got.Members) != 3 {
		t.Fatalf("members = %v, want 3 observations", got.Members)
	}
	if len(got.Projections) != projectionDays || len(got.ProjectionDates) != projectionDays {
		t.Fatalf("projection length = %d, want %d", len(got.Projections), projectionDays)
	}
	// Perfectly linear series (+10/day): next projected value is 130.
	if math.Abs(got.Projections[0]-130) > 1e-9 {
		t.Fatalf("first projection = %v, want 130", got.Projections[0])
	}
	if math.Abs(got.Projections[6]-190) > 1e-9 {
		t.Fatalf("last projection = %v, want 190", got.Projections[6])
	}
}

func TestChannelGrowthTooFewPoints(t *testing.T) {
	t.Parallel()
	db := &fakeDB{
		channels: map[int64]store.Channel{1: {ID: 1}},
		growth:   []store.GrowthPoint{{Date: time.Now(), MemberCount: 50}},
	}
	got, err := New(db, logx.Nop()).ChannelGrowth(context.Background(), 1, 30)
	if err != nil {
		t.Fatalf("ChannelGrowth: %v", err)
	}
	if len(got.Projections) != 0 {
		t.Fatalf("projections = %v, want none for a single observation", got.Projections)
	}
}

func TestChannelGrowthUnknownChannel(t *testing.T) {
	t.Parallel()
	s := New(&fakeDB{channels: map[int64]store.Channel{}}, logx.Nop())
	if _, err := s.ChannelGrowth(context.Background(), 9, 30); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLinearFit(t *testing.T) {
	t.Parallel()
	slope, intercept := linearFit([]int{10, 20, 30, 40})
	if math.Abs(slope-10) > 1e-9 || math.Abs(intercept-10) > 1e-9 {
		t.Fatalf("fit = (%v, %v), want (10, 10)", slope, intercept)
	}

	slope, intercept = linearFit([]int{7, 7, 7})
	if math.Abs(slope) > 1e-9 || math.Abs(intercept-7) > 1e-9 {
		t.Fatalf("flat fit = (%v, %v), want (0, 7)", slope, intercept)
	}
}
