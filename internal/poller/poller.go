// Package poller pulls mention events from an upstream feed when no
// webhook push is available. It resumes from a durable cursor and
// rate-limits its own requests against the upstream API.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tagai-dao/tagclaw/pkg/models"
)

const cursorName = "mention_feed"

// CursorStore is the durable cursor the poller resumes from,
// implemented by store.CursorStore.
type CursorStore interface {
	Read(ctx context.Context, name string) (string, error)
	Write(ctx context.Context, name, value string) error
}

// feedResponse is the upstream feed page: a batch of events plus the
// cursor to request the next page from.
type feedResponse struct {
	Tweets     []*models.Event `json:"tweets"`
	NextCursor string          `json:"next_cursor"`
}

// Options configures a Poller.
type Options struct {
	FeedURL  string
	Token    string
	Interval time.Duration
	// RequestsPerMinute caps outbound feed requests. Zero means 30.
	RequestsPerMinute int
}

// Poller periodically fetches the mention feed and hands each event to
// the handler. The cursor is advanced only after a page is fully
// dispatched, so a crash re-delivers rather than drops events.
type Poller struct {
	opts       Options
	cursors    CursorStore
	limiter    *rate.Limiter
	handler    func(*models.Event)
	httpClient *http.Client
}

func New(opts Options, cursors CursorStore, handler func(*models.Event)) *Poller {
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &Poller{
		opts:       opts,
		cursors:    cursors,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		handler:    handler,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run polls until ctx is canceled. Fetch errors are logged and retried
// on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	log.Info().
		Str("feed_url", p.opts.FeedURL).
		Dur("interval", p.opts.Interval).
		Msg("Feed poller started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Feed poller stopped")
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Feed poll failed")
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	cursor, err := p.cursors.Read(ctx, cursorName)
	if err != nil {
		return err
	}

	page, err := p.fetchPage(ctx, cursor)
	if err != nil {
		return err
	}
	if len(page.Tweets) == 0 {
		return nil
	}

	for _, event := range page.Tweets {
		p.handler(event)
	}

	next := page.NextCursor
	if next == "" {
		next = page.Tweets[len(page.Tweets)-1].ID
	}
	if err := p.cursors.Write(ctx, cursorName, next); err != nil {
		return err
	}

	log.Debug().
		Int("events", len(page.Tweets)).
		Str("cursor", next).
		Msg("Feed page dispatched")
	return nil
}

func (p *Poller) fetchPage(ctx context.Context, cursor string) (*feedResponse, error) {
	feedURL := p.opts.FeedURL
	if cursor != "" {
		sep := "?"
		if u, err := url.Parse(feedURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		feedURL += sep + "cursor=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	if p.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned %d: %s", resp.StatusCode, string(body))
	}

	var page feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode feed page: %w", err)
	}
	return &page, nil
}
