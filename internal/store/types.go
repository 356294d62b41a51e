package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced post or channel does not exist.
var ErrNotFound = errors.New("record not found")

// PostStatus is the post lifecycle state.
//
// Transitions are owned by the scheduling engine; the store only
// persists whatever the engine decides.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusScheduled PostStatus = "scheduled"
	StatusPublished PostStatus = "published"
	StatusFailed    PostStatus = "failed"
)

// Post is a channel post, possibly with an attached photo.
//
// Invariant (engine-enforced): ScheduledAt is set iff Status == scheduled.
// PublishedAt records the most recent successful publish and is never
// cleared once set. MessageID is the Telegram message id returned by the
// gateway on success (used for later edit/delete calls).
type Post struct {
	ID          int64
	ChannelID   int64
	Text        string
	PhotoURL    string
	Status      PostStatus
	ScheduledAt *time.Time
	PublishedAt *time.Time
	ErrorMsg    string
	MessageID   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPhoto reports whether the post carries an attached photo reference.
func (p Post) HasPhoto() bool { return p.PhotoURL != "" }

// Channel is a destination Telegram channel.
// ChatID is the external identifier ("@name" or "-100..." numeric form).
// Title, MemberCount and Active are refreshed by periodic health checks.
type Channel struct {
	ID          int64
	ChatID      string
	Title       string
	Active      bool
	MemberCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostFilter narrows FindPosts. Zero values mean "any".
type PostFilter struct {
	Status    PostStatus
	ChannelID int64
	From      time.Time // scheduled_at >= From
	To        time.Time // scheduled_at <= To
	Limit     int
}

// PostStats is one engagement measurement for a published post.
type PostStats struct {
	PostID    int64
	Views     int
	Shares    int
	Reactions int
	Reach     int
	At        time.Time
}

// ChannelStats is a daily channel snapshot used for growth analysis.
type ChannelStats struct {
	ChannelID   int64
	Date        time.Time
	MemberCount int
	PostCount   int
	TotalViews  int
	TotalShares int
}

// EngagementSample is a published post's engagement bucketed by publish
// slot. Engagement is (shares+reactions)/views as a percentage.
type EngagementSample struct {
	Weekday    time.Weekday
	Hour       int
	Engagement float64
}

// GrowthPoint is a (date, member count) pair for one channel.
type GrowthPoint struct {
	Date        time.Time
	MemberCount int
}

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
