package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "postflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (and migrates) the SQLite database at cfg.Path.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- posts ----

func (s *Store) CreatePost(ctx context.Context, p Post) (int64, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO post(channel_id, text, photo_url, status, scheduled_at, published_at, error_msg, message_id, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.ChannelID, p.Text, p.PhotoURL, string(statusOrDraft(p.Status)),
		nullMillis(p.ScheduledAt), nullMillis(p.PublishedAt), p.ErrorMsg, p.MessageID,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetPost(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, text, photo_url, status, scheduled_at, published_at, error_msg, message_id, created_at, updated_at
		 FROM post WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

// SavePost writes all mutable post fields in a single update.
// Status, times, error message and message id always travel together so a
// crash can never persist half a transition.
func (s *Store) SavePost(ctx context.Context, p Post) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE post SET text=?, photo_url=?, status=?, scheduled_at=?, published_at=?, error_msg=?, message_id=?, updated_at=?
		 WHERE id=?`,
		p.Text, p.PhotoURL, string(p.Status),
		nullMillis(p.ScheduledAt), nullMillis(p.PublishedAt), p.ErrorMsg, p.MessageID,
		time.Now().UnixMilli(), p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindPosts returns posts matching the filter ordered by scheduled_at
// ascending (unscheduled posts by id).
func (s *Store) FindPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	q := `SELECT id, channel_id, text, photo_url, status, scheduled_at, published_at, error_msg, message_id, created_at, updated_at
	      FROM post WHERE 1=1`
	args := make([]any, 0, 5)
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.ChannelID != 0 {
		q += " AND channel_id = ?"
		args = append(args, f.ChannelID)
	}
	if !f.From.IsZero() {
		q += " AND scheduled_at >= ?"
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		q += " AND scheduled_at <= ?"
		args = append(args, f.To.UnixMilli())
	}
	q += " ORDER BY scheduled_at IS NULL, scheduled_at ASC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- channels ----

func (s *Store) CreateChannel(ctx context.Context, c Channel) (int64, error) {
	now := time.Now()
	active := 0
	if c.Active {
		active = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channel(chat_id, title, active, member_count, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)`,
		c.ChatID, c.Title, active, c.MemberCount, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetChannel(ctx context.Context, id int64) (Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, title, active, member_count, created_at, updated_at FROM channel WHERE id = ?`, id)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListChannels(ctx context.Context, activeOnly bool) ([]Channel, error) {
	q := `SELECT id, chat_id, title, active, member_count, created_at, updated_at FROM channel`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChannelHealth refreshes the fields owned by the health checker.
func (s *Store) UpdateChannelHealth(ctx context.Context, id int64, title string, memberCount int, active bool) error {
	a := 0
	if active {
		a = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel SET title=?, member_count=?, active=?, updated_at=? WHERE id=?`,
		title, memberCount, a, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- analytics ----

func (s *Store) AddPostStats(ctx context.Context, ps PostStats) error {
	if ps.At.IsZero() {
		ps.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_analytics(post_id, views, shares, reactions, reach, at) VALUES(?,?,?,?,?,?)`,
		ps.PostID, ps.Views, ps.Shares, ps.Reactions, ps.Reach, ps.At.UnixMilli())
	return err
}

func (s *Store) AddChannelStats(ctx context.Context, cs ChannelStats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_analytics(channel_id, date, member_count, post_count, total_views, total_shares)
		 VALUES(?,?,?,?,?,?)`,
		cs.ChannelID, cs.Date.UnixMilli(), cs.MemberCount, cs.PostCount, cs.TotalViews, cs.TotalShares)
	return err
}

func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM post`).Scan(&n)
	return n, err
}

func (s *Store) CountActiveChannels(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel WHERE active = 1`).Scan(&n)
	return n, err
}

// CountPostsWithPhoto returns (with photo, total) post counts.
func (s *Store) CountPostsWithPhoto(ctx context.Context) (withPhoto, total int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(CASE WHEN photo_url != '' THEN 1 END), COUNT(*) FROM post`).Scan(&withPhoto, &total)
	return withPhoto, total, err
}

func (s *Store) SumReach(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(reach) FROM post_analytics`).Scan(&n)
	return n.Int64, err
}

// PublishedTimes returns publish timestamps at or after since, ascending.
func (s *Store) PublishedTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT published_at FROM post WHERE published_at IS NOT NULL AND published_at >= ? ORDER BY published_at ASC`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms))
	}
	return out, rows.Err()
}

// EngagementTotals sums views/shares/reactions, optionally for one post
// (postID 0 means all posts).
func (s *Store) EngagementTotals(ctx context.Context, postID int64) (views, shares, reactions int64, err error) {
	q := `SELECT COALESCE(SUM(views),0), COALESCE(SUM(shares),0), COALESCE(SUM(reactions),0) FROM post_analytics`
	args := []any{}
	if postID != 0 {
		q += ` WHERE post_id = ?`
		args = append(args, postID)
	}
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&views, &shares, &reactions)
	return views, shares, reactions, err
}

// EngagementSamples joins published posts with their analytics and buckets
// engagement by publish weekday/hour. channelID 0 means all channels.
func (s *Store) EngagementSamples(ctx context.Context, channelID int64, since time.Time) ([]EngagementSample, error) {
	q := `SELECT p.published_at, a.views, a.shares, a.reactions
	      FROM post p JOIN post_analytics a ON a.post_id = p.id
	      WHERE p.published_at IS NOT NULL AND p.published_at >= ?`
	args := []any{since.UnixMilli()}
	if channelID != 0 {
		q += ` AND p.channel_id = ?`
		args = append(args, channelID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EngagementSample
	for rows.Next() {
		var ms, views, shares, reactions int64
		if err := rows.Scan(&ms, &views, &shares, &reactions); err != nil {
			return nil, err
		}
		t := time.UnixMilli(ms)
		var eng float64
		if views > 0 {
			eng = float64(shares+reactions) / float64(views) * 100
		}
		out = append(out, EngagementSample{
			Weekday:    t.Weekday(),
			Hour:       t.Hour(),
			Engagement: eng,
		})
	}
	return out, rows.Err()
}

// GrowthPoints returns (date, member count) rows for a channel, ascending.
func (s *Store) GrowthPoints(ctx context.Context, channelID int64, since time.Time) ([]GrowthPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, member_count FROM channel_analytics WHERE channel_id = ? AND date >= ? ORDER BY date ASC`,
		channelID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GrowthPoint
	for rows.Next() {
		var ms int64
		var members int
		if err := rows.Scan(&ms, &members); err != nil {
			return nil, err
		}
		out = append(out, GrowthPoint{Date: time.UnixMilli(ms), MemberCount: members})
	}
	return out, rows.Err()
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (Post, error) {
	var p Post
	var status string
	var schedMS, pubMS sql.NullInt64
	var createdMS, updatedMS int64
	err := r.Scan(&p.ID, &p.ChannelID, &p.Text, &p.PhotoURL, &status,
		&schedMS, &pubMS, &p.ErrorMsg, &p.MessageID, &createdMS, &updatedMS)
	if err != nil {
		return Post{}, err
	}
	p.Status = PostStatus(status)
	p.ScheduledAt = millisPtr(schedMS)
	p.PublishedAt = millisPtr(pubMS)
	p.CreatedAt = time.UnixMilli(createdMS)
	p.UpdatedAt = time.UnixMilli(updatedMS)
	return p, nil
}

func scanChannel(r rowScanner) (Channel, error) {
	var c Channel
	var active int
	var createdMS, updatedMS int64
	err := r.Scan(&c.ID, &c.ChatID, &c.Title, &active, &c.MemberCount, &createdMS, &updatedMS)
	if err != nil {
		return Channel{}, err
	}
	c.Active = active != 0
	c.CreatedAt = time.UnixMilli(createdMS)
	c.UpdatedAt = time.UnixMilli(updatedMS)
	return c, nil
}

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func statusOrDraft(s PostStatus) PostStatus {
	if s == "" {
		return StatusDraft
	}
	return s
}
