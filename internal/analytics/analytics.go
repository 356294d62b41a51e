// Package analytics computes descriptive statistics over stored posts
// and engagement records: activity histograms, content splits,
// engagement rates and channel growth projection. It only reads the
// store; all computation is in-process.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

// ErrNotFound is returned when the referenced channel does not exist.
var ErrNotFound = errors.New("not found")

// Store is the read-only slice of the durable store this service needs.
type Store interface {
	CountPosts(ctx context.Context) (int64, error)
	CountActiveChannels(ctx context.Context) (int64, error)
	CountPostsWithPhoto(ctx context.Context) (withPhoto, total int64, err error)
	SumReach(ctx context.Context) (int64, error)
	PublishedTimes(ctx context.Context, since time.Time) ([]time.Time, error)
	EngagementTotals(ctx context.Context, postID int64) (views, shares, reactions int64, err error)
	GrowthPoints(ctx context.Context, channelID int64, since time.Time) ([]store.GrowthPoint, error)
	GetChannel(ctx context.Context, id int64) (store.Channel, error)
}

type Service struct {
	db  Store
	log logx.Logger
}

func New(db Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{db: db, log: log}
}

type GeneralStats struct {
	TotalPosts     int64
	PostsToday     int64
	ActiveChannels int64
	TotalReach     int64
}

func (s *Service) GeneralStats(ctx context.Context) (GeneralStats, error) {
	var out GeneralStats
	var err error

	if out.TotalPosts, err = s.db.CountPosts(ctx); err != nil {
		return GeneralStats{}, fmt.Errorf("count posts: %w", err)
	}
	if out.ActiveChannels, err = s.db.CountActiveChannels(ctx); err != nil {
		return GeneralStats{}, fmt.Errorf("count channels: %w", err)
	}
	if out.TotalReach, err = s.db.SumReach(ctx); err != nil {
		return GeneralStats{}, fmt.Errorf("sum reach: %w", err)
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	times, err := s.db.PublishedTimes(ctx, midnight)
	if err != nil {
		return GeneralStats{}, fmt.Errorf("published times: %w", err)
	}
	out.PostsToday = int64(len(times))
	return out, nil
}

// ActivityByHour buckets publishes from the last N days into a 24-slot
// hour-of-day histogram.
func (s *Service) ActivityByHour(ctx context.Context, days int) ([24]int, error) {
	var hist [24]int
	if days <= 0 {
		days = 7
	}
	times, err := s.db.PublishedTimes(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return hist, fmt.Errorf("published times: %w", err)
	}
	for _, t := range times {
		hist[t.Hour()]++
	}
	return hist, nil
}

type ContentTypes struct {
	WithPhoto    int64
	WithoutPhoto int64
}

func (s *Service) ContentTypes(ctx context.Context) (ContentTypes, error) {
	withPhoto, total, err := s.db.CountPostsWithPhoto(ctx)
	if err != nil {
		return ContentTypes{}, fmt.Errorf("count content types: %w", err)
	}
	return ContentTypes{WithPhoto: withPhoto, WithoutPhoto: total - withPhoto}, nil
}

type Engagement struct {
	Views     int64
	Shares    int64
	Reactions int64

	// Rate is (shares+reactions)/views as a percentage, rounded to two
	// decimals; zero when there are no views.
	Rate float64
}

// EngagementMetrics aggregates engagement, optionally for a single post
// (postID 0 means all posts).
func (s *Service) EngagementMetrics(ctx context.Context, postID int64) (Engagement, error) {
	views, shares, reactions, err := s.db.EngagementTotals(ctx, postID)
	if err != nil {
		return Engagement{}, fmt.Errorf("engagement totals: %w", err)
	}
	out := Engagement{Views: views, Shares: shares, Reactions: reactions}
	if views > 0 {
		out.Rate = math.Round(float64(shares+reactions)/float64(views)*100*100) / 100
	}
	return out, nil
}

const projectionDays = 7

type Growth struct {
	Dates   []time.Time
	Members []int

	// Projection holds projectionDays forward dates with member counts
	// from a least-squares fit over the observed series. Empty when
	// fewer than two observations exist.
	ProjectionDates []time.Time
	Projections     []float64
}

// ChannelGrowth returns the member-count series for the last N days plus
// a linear projection one week out.
func (s *Service) ChannelGrowth(ctx context.Context, channelID int64, days int) (Growth, error) {
	if _, err := s.db.GetChannel(ctx, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Growth{}, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
		}
		return Growth{}, fmt.Errorf("get channel: %w", err)
	}
	if days <= 0 {
		days = 30
	}

	points, err := s.db.GrowthPoints(ctx, channelID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return Growth{}, fmt.Errorf("growth points: %w", err)
	}

	out := Growth{
		Dates:   make([]time.Time, 0, len(points)),
		Members: make([]int, 0, len(points)),
	}
	for _, p := range points {
		out.Dates = append(out.Dates, p.Date)
		out.Members = append(out.Members, p.MemberCount)
	}

	if len(out.Members) < 2 {
		return out, nil
	}

	slope, intercept := linearFit(out.Members)
	now := time.Now()
	for i := 1; i <= projectionDays; i++ {
		out.ProjectionDates = append(out.ProjectionDates, now.AddDate(0, 0, i))
		x := float64(len(out.Members) - 1 + i)
		out.Projections = append(out.Projections, intercept+slope*x)
	}
	return out, nil
}

// linearFit computes a least-squares line over y indexed by 0..n-1.
func linearFit(y []int) (slope, intercept float64) {
	n := float64(len(y))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		fy := float64(v)
		sumX += x
		sumY += fy
		sumXY += x * fy
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
