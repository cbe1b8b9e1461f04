// Package telegram implements provider.Client on top of telebot.
//
// Each user gets their own bot session, created lazily from the credential in
// the store. Sessions are kept for the process lifetime; sends across all
// users share one rate limiter so the engine cannot exceed the platform's
// global pace even with many concurrent jobs.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"sendbot/internal/provider"
	logx "sendbot/pkg/logx"
)

// TokenSource resolves a user's stored provider credential.
type TokenSource interface {
	BotToken(ctx context.Context, userID int64) (string, error)
}

type Config struct {
	// RatePerSec caps sends across all users. 0 means default (10).
	RatePerSec int
	// SendTimeout bounds one Send call end to end. 0 disables the bound.
	SendTimeout time.Duration
}

type Client struct {
	cfg    Config
	log    logx.Logger
	tokens TokenSource

	limiter *rate.Limiter

	mu   sync.Mutex
	bots map[int64]*tele.Bot
}

func New(cfg Config, tokens TokenSource, log logx.Logger) *Client {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		bots:    map[int64]*tele.Bot{},
	}
}

// HasSession reports whether the user still holds a usable credential.
// The bot instance itself is built lazily by EnsureSession.
func (c *Client) HasSession(ctx context.Context, userID int64) bool {
	c.mu.Lock()
	_, ok := c.bots[userID]
	c.mu.Unlock()
	if ok {
		return true
	}
	token, err := c.tokens.BotToken(ctx, userID)
	return err == nil && strings.TrimSpace(token) != ""
}

// EnsureSession builds the user's bot from the stored credential if it does
// not exist yet. Creation performs the platform's access test (getMe).
func (c *Client) EnsureSession(ctx context.Context, userID int64) error {
	c.mu.Lock()
	_, ok := c.bots[userID]
	c.mu.Unlock()
	if ok {
		return nil
	}

	token, err := c.tokens.BotToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("telegram: load credential for user %d: %w", userID, err)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("telegram: user %d has no provider credential", userID)
	}

	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return fmt.Errorf("telegram: session for user %d: %w", userID, err)
	}

	c.mu.Lock()
	// Another cycle may have raced us; first one wins.
	if _, ok := c.bots[userID]; !ok {
		c.bots[userID] = b
	}
	c.mu.Unlock()

	c.log.Debug("session established", logx.Int64("user", userID))
	return nil
}

// DropSession forgets a user's bot (e.g. after the credential is revoked).
func (c *Client) DropSession(userID int64) {
	c.mu.Lock()
	delete(c.bots, userID)
	c.mu.Unlock()
}

func (c *Client) Send(ctx context.Context, userID int64, chatID string, content string) error {
	c.mu.Lock()
	b := c.bots[userID]
	c.mu.Unlock()
	if b == nil {
		if err := c.EnsureSession(ctx, userID); err != nil {
			return err
		}
		c.mu.Lock()
		b = c.bots[userID]
		c.mu.Unlock()
	}

	if c.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return mapSendError(err)
	}

	_, err := b.Send(recipient(chatID), content)
	if err != nil {
		return mapSendError(err)
	}
	return nil
}

// recipient turns a stored chat ID into a telebot recipient. Numeric IDs are
// sent as-is; anything else is passed through (Telegram accepts @usernames).
func recipient(chatID string) tele.Recipient {
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return &tele.Chat{ID: n}
	}
	return rawRecipient(chatID)
}

type rawRecipient string

func (r rawRecipient) Recipient() string { return string(r) }

// mapSendError converts SDK errors into the engine's typed provider.Error.
// Text inspection of platform descriptions is confined to this edge.
func mapSendError(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		desc := fe.Error()
		kind := provider.KindFlood
		if strings.Contains(strings.ToUpper(desc), "SLOWMODE") {
			kind = provider.KindSlowMode
		}
		return provider.NewError(kind, fe.RetryAfter, desc, err)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		desc := te.Description
		up := strings.ToUpper(desc)
		switch {
		case strings.Contains(up, "SLOWMODE_WAIT"):
			return provider.NewError(provider.KindSlowMode, trailingSeconds(up), desc, err)
		case te.Code == 401 || te.Code == 403:
			return provider.NewError(provider.KindPermissionDenied, 0, desc, err)
		case strings.Contains(up, "CHAT_WRITE_FORBIDDEN"),
			strings.Contains(up, "NOT ENOUGH RIGHTS"),
			strings.Contains(up, "HAVE NO RIGHTS"):
			return provider.NewError(provider.KindPermissionDenied, 0, desc, err)
		case strings.Contains(up, "CHAT NOT FOUND"),
			strings.Contains(up, "PEER_ID_INVALID"),
			strings.Contains(up, "USER IS DEACTIVATED"):
			return provider.NewError(provider.KindInvalidTarget, 0, desc, err)
		default:
			return provider.NewError(provider.KindUnknown, 0, desc, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.KindUnknown, 0, "send timed out", err)
	}
	return provider.NewError(provider.KindUnknown, 0, err.Error(), err)
}

// trailingSeconds extracts the numeric suffix of errors like "SLOWMODE_WAIT_42".
func trailingSeconds(s string) int {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return 0
	}
	return n
}
