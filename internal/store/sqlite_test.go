package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "postflow/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Path: filepath.Join(dir, "postflow.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustChannel(t *testing.T, st *Store, chatID string, active bool) int64 {
	t.Helper()
	id, err := st.CreateChannel(context.Background(), Channel{ChatID: chatID, Title: "ch " + chatID, Active: active})
	if err != nil {
		t.Fatalf("CreateChannel(%s): %v", chatID, err)
	}
	return id
}

func TestPostLifecycleRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	chID := mustChannel(t, st, "@main", true)

	id, err := st.CreatePost(ctx, Post{ChannelID: chID, Text: "hello", PhotoURL: "https://img/1.png"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	p, err := st.GetPost(ctx, id)
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Status != StatusDraft {
		t.Fatalf("new post status = %s, want draft", p.Status)
	}
	if !p.HasPhoto() {
		t.Fatal("HasPhoto = false, want true")
	}
	if p.ScheduledAt != nil || p.PublishedAt != nil {
		t.Fatalf("new post has times set: %+v", p)
	}

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	p.Status = StatusScheduled
	p.ScheduledAt = &at
	if err := st.SavePost(ctx, p); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	got, err := st.GetPost(ctx, id)
	if err != nil {
		t.Fatalf("GetPost after save: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", got.Status)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Fatalf("ScheduledAt = %v, want %v", got.ScheduledAt, at)
	}

	now := time.Now().Truncate(time.Millisecond)
	got.Status = StatusPublished
	got.ScheduledAt = nil
	got.PublishedAt = &now
	got.MessageID = 555
	if err := st.SavePost(ctx, got); err != nil {
		t.Fatalf("SavePost publish: %v", err)
	}
	final, err := st.GetPost(ctx, id)
	if err != nil {
		t.Fatalf("GetPost final: %v", err)
	}
	if final.ScheduledAt != nil {
		t.Fatalf("ScheduledAt = %v, want cleared", final.ScheduledAt)
	}
	if final.PublishedAt == nil || !final.PublishedAt.Equal(now) {
		t.Fatalf("PublishedAt = %v, want %v", final.PublishedAt, now)
	}
	if final.MessageID != 555 {
		t.Fatalf("MessageID = %d, want 555", final.MessageID)
	}
}

func TestGetPostNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.GetPost(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := st.SavePost(context.Background(), Post{ID: 12345}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SavePost missing: err = %v, want ErrNotFound", err)
	}
}

func TestFindPostsFiltersAndOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	ch1 := mustChannel(t, st, "@one", true)
	ch2 := mustChannel(t, st, "@two", true)

	base := time.Now().Truncate(time.Millisecond)
	mk := func(chID int64, status PostStatus, offset time.Duration) int64 {
		p := Post{ChannelID: chID, Text: "p", Status: status}
		id, err := st.CreatePost(ctx, p)
		if err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
		if status == StatusScheduled {
			at := base.Add(offset)
			saved, _ := st.GetPost(ctx, id)
			saved.Status = StatusScheduled
			saved.ScheduledAt = &at
			if err := st.SavePost(ctx, saved); err != nil {
				t.Fatalf("SavePost: %v", err)
			}
		}
		return id
	}

	late := mk(ch1, StatusScheduled, 3*time.Hour)
	early := mk(ch1, StatusScheduled, time.Hour)
	mk(ch2, StatusScheduled, 2*time.Hour)
	mk(ch1, StatusDraft, 0)

	scheduled, err := st.FindPosts(ctx, PostFilter{Status: StatusScheduled})
	if err != nil {
		t.Fatalf("FindPosts: %v", err)
	}
	if len(scheduled) != 3 {
		t.Fatalf("scheduled = %d, want 3", len(scheduled))
	}
	if scheduled[0].ID != early || scheduled[2].ID != late {
		t.Fatalf("order = [%d %d %d], want earliest first", scheduled[0].ID, scheduled[1].ID, scheduled[2].ID)
	}

	byChannel, err := st.FindPosts(ctx, PostFilter{Status: StatusScheduled, ChannelID: ch1})
	if err != nil {
		t.Fatalf("FindPosts by channel: %v", err)
	}
	if len(byChannel) != 2 {
		t.Fatalf("channel filter = %d, want 2", len(byChannel))
	}

	window, err := st.FindPosts(ctx, PostFilter{
		Status: StatusScheduled,
		From:   base.Add(90 * time.Minute),
		To:     base.Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatalf("FindPosts window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("window = %d, want 2", len(window))
	}

	limited, err := st.FindPosts(ctx, PostFilter{Status: StatusScheduled, Limit: 1})
	if err != nil {
		t.Fatalf("FindPosts limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != early {
		t.Fatalf("limit = %+v, want just the earliest", limited)
	}
}

func TestChannelHealthUpdate(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	id := mustChannel(t, st, "@main", true)

	if err := st.UpdateChannelHealth(ctx, id, "Main News", 420, false); err != nil {
		t.Fatalf("UpdateChannelHealth: %v", err)
	}
	ch, err := st.GetChannel(ctx, id)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.Title != "Main News" || ch.MemberCount != 420 || ch.Active {
		t.Fatalf("channel = %+v, want updated inactive", ch)
	}

	active, err := st.ListChannels(ctx, true)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active channels = %d, want 0", len(active))
	}
	all, err := st.ListChannels(ctx, false)
	if err != nil {
		t.Fatalf("ListChannels all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("all channels = %d, want 1", len(all))
	}

	if err := st.UpdateChannelHealth(ctx, 999, "x", 0, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing channel: err = %v, want ErrNotFound", err)
	}
}

func TestAnalyticsAggregates(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	chID := mustChannel(t, st, "@main", true)

	pubAt := time.Date(2026, time.August, 26, 14, 0, 0, 0, time.UTC) // Wednesday 14h
	postID, err := st.CreatePost(ctx, Post{ChannelID: chID, Text: "a"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	p, _ := st.GetPost(ctx, postID)
	p.Status = StatusPublished
	p.PublishedAt = &pubAt
	if err := st.SavePost(ctx, p); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	if err := st.AddPostStats(ctx, PostStats{PostID: postID, Views: 200, Shares: 6, Reactions: 4, Reach: 500}); err != nil {
		t.Fatalf("AddPostStats: %v", err)
	}

	views, shares, reactions, err := st.EngagementTotals(ctx, postID)
	if err != nil {
		t.Fatalf("EngagementTotals: %v", err)
	}
	if views != 200 || shares != 6 || reactions != 4 {
		t.Fatalf("totals = %d/%d/%d, want 200/6/4", views, shares, reactions)
	}

	reach, err := st.SumReach(ctx)
	if err != nil || reach != 500 {
		t.Fatalf("SumReach = %d, %v; want 500", reach, err)
	}

	samples, err := st.EngagementSamples(ctx, chID, pubAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("EngagementSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}
	s := samples[0]
	if s.Weekday != time.Wednesday || s.Hour != 14 {
		t.Fatalf("sample slot = %v %dh, want Wednesday 14h", s.Weekday, s.Hour)
	}
	if s.Engagement != 5.0 { // (6+4)/200*100
		t.Fatalf("engagement = %v, want 5.0", s.Engagement)
	}

	times, err := st.PublishedTimes(ctx, pubAt.Add(-time.Hour))
	if err != nil || len(times) != 1 {
		t.Fatalf("PublishedTimes = %v, %v; want one entry", times, err)
	}
}

func TestGrowthPoints(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	chID := mustChannel(t, st, "@main", true)

	day := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	for i, members := range []int{100, 120, 150} {
		err := st.AddChannelStats(ctx, ChannelStats{
			ChannelID:   chID,
			Date:        day.AddDate(0, 0, i),
			MemberCount: members,
		})
		if err != nil {
			t.Fatalf("AddChannelStats: %v", err)
		}
	}

	points, err := st.GrowthPoints(ctx, chID, day.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("GrowthPoints: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if points[0].MemberCount != 100 || points[2].MemberCount != 150 {
		t.Fatalf("points = %+v, want ascending by date", points)
	}

	recent, err := st.GrowthPoints(ctx, chID, day.AddDate(0, 0, 2))
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent points = %v, %v; want 1", recent, err)
	}
}
