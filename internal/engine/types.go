package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postflow/internal/eventbus"
	"postflow/internal/gateway"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

// Config controls the scheduling engine.
type Config struct {
	Enabled bool

	// SweepInterval is how often due triggers are collected and published.
	SweepInterval time.Duration // default 30s

	// Timezone used when generating optimal-schedule slots (IANA name).
	Timezone string
}

// PostStore is the slice of the durable store the engine needs.
type PostStore interface {
	GetPost(ctx context.Context, id int64) (store.Post, error)
	SavePost(ctx context.Context, p store.Post) error
	FindPosts(ctx context.Context, f store.PostFilter) ([]store.Post, error)
	EngagementSamples(ctx context.Context, channelID int64, since time.Time) ([]store.EngagementSample, error)
}

// ChannelDirectory resolves a post's destination channel.
type ChannelDirectory interface {
	GetChannel(ctx context.Context, id int64) (store.Channel, error)
}

// trigger is the engine's private bookkeeping for one scheduled post.
// gen is bumped on every (re)schedule/cancel so stale in-flight fires
// can be detected and discarded.
type trigger struct {
	postID int64
	fireAt time.Time
	gen    uint64
}

// Engine is the scheduling engine plus publication state machine.
// Construct with New; all collaborators are injected.
type Engine struct {
	log logx.Logger
	bus eventbus.Bus

	posts    PostStore
	channels ChannelDirectory
	gw       gateway.Gateway

	// mu guards cfg, pending, gens and the cron run state. It is only
	// held for in-memory mutation, never across store or gateway calls.
	mu      sync.Mutex
	cfg     Config
	pending map[int64]trigger
	gens    map[int64]uint64
	loc     *time.Location

	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	sweepWG sync.WaitGroup
}

// TriggerInfo is a read-only view of one pending trigger.
type TriggerInfo struct {
	PostID int64
	FireAt time.Time
	Gen    uint64
}

// Snapshot is an operational view of the engine's pending set.
type Snapshot struct {
	Enabled  bool
	Timezone string
	Pending  []TriggerInfo
}
