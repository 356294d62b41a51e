package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"postflow/internal/gateway"
	logx "postflow/pkg/logx"
)

type Config struct {
	Token string

	// SendTimeout bounds every outgoing API call. 0 means default (15s).
	SendTimeout time.Duration

	// RatePerSec caps outgoing calls to stay under Telegram flood limits.
	RatePerSec int
}

// Gateway is the telebot-backed publication transport.
type Gateway struct {
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	timeout time.Duration
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	g := &Gateway{log: log, bot: b}
	g.Apply(cfg)
	return g, nil
}

// Apply updates timeout and rate limits at runtime (config hot reload).
// The token cannot be changed without a restart.
func (g *Gateway) Apply(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeout = cfg.SendTimeout
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	g.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

func (g *Gateway) Send(ctx context.Context, externalID, text, photoURL string) (gateway.MessageRef, error) {
	ctx, cancel, err := g.acquire(ctx)
	if err != nil {
		return gateway.MessageRef{}, err
	}
	defer cancel()

	msg, err := callBounded(ctx, func() (*tele.Message, error) {
		opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
		if photoURL != "" {
			return g.bot.Send(recipient(externalID), &tele.Photo{File: tele.FromURL(photoURL), Caption: text}, opts)
		}
		return g.bot.Send(recipient(externalID), text, opts)
	})
	if err != nil {
		return gateway.MessageRef{}, err
	}
	ref := gateway.MessageRef{MessageID: msg.ID}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	g.log.Debug("message sent",
		logx.String("chat", externalID),
		logx.Int("message_id", ref.MessageID),
		logx.Bool("photo", photoURL != ""))
	return ref, nil
}

func (g *Gateway) Edit(ctx context.Context, ref gateway.MessageRef, text, photoURL string) error {
	ctx, cancel, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = callBounded(ctx, func() (*tele.Message, error) {
		opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
		if photoURL != "" {
			return g.bot.Edit(stored(ref), &tele.Photo{File: tele.FromURL(photoURL), Caption: text}, opts)
		}
		return g.bot.Edit(stored(ref), text, opts)
	})
	return err
}

func (g *Gateway) Delete(ctx context.Context, ref gateway.MessageRef) error {
	ctx, cancel, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = callBounded(ctx, func() (struct{}, error) {
		return struct{}{}, g.bot.Delete(stored(ref))
	})
	return err
}

// ChatInfo uses raw API calls (getChat + getChatMemberCount) so channels
// addressed by @username work regardless of telebot helper coverage.
func (g *Gateway) ChatInfo(ctx context.Context, externalID string) (gateway.ChatInfo, error) {
	ctx, cancel, err := g.acquire(ctx)
	if err != nil {
		return gateway.ChatInfo{}, err
	}
	defer cancel()

	return callBounded(ctx, func() (gateway.ChatInfo, error) {
		raw, err := g.bot.Raw("getChat", map[string]string{"chat_id": externalID})
		if err != nil {
			return gateway.ChatInfo{}, err
		}
		var chatResp struct {
			Result struct {
				ID    int64  `json:"id"`
				Title string `json:"title"`
			} `json:"result"`
		}
		if err := json.Unmarshal(raw, &chatResp); err != nil {
			return gateway.ChatInfo{}, fmt.Errorf("getChat decode: %w", err)
		}

		info := gateway.ChatInfo{ID: chatResp.Result.ID, Title: chatResp.Result.Title}

		raw, err = g.bot.Raw("getChatMemberCount", map[string]string{"chat_id": externalID})
		if err != nil {
			// Member count is best-effort; the chat itself is reachable.
			g.log.Debug("member count unavailable", logx.String("chat", externalID), logx.Err(err))
			return info, nil
		}
		var countResp struct {
			Result int `json:"result"`
		}
		if err := json.Unmarshal(raw, &countResp); err == nil {
			info.MemberCount = countResp.Result
		}
		return info, nil
	})
}

// acquire applies the per-call deadline and waits for a rate limiter slot.
func (g *Gateway) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	g.mu.Lock()
	timeout := g.timeout
	lim := g.limiter
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	if err := lim.Wait(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, cancel, nil
}

// callBounded runs a blocking telebot call in its own goroutine so the
// caller's deadline is honored even though telebot itself ignores ctx.
func callBounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// recipient addresses a chat by its external string id ("@name" or
// "-100..."). Telegram accepts both forms in the chat_id field.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func stored(ref gateway.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
}
