package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/ratelimit"
	"SignalFuse/pkg/cache"
	xhttp "SignalFuse/pkg/http"
	"SignalFuse/pkg/logger"
)

const (
	marketsPath = "/markets"
	historyPath = "/prices-history"
	limiterKey  = "clob"
)

// fidelity in minutes per supported interval.
var fidelity = map[string]int{"1m": 1, "1h": 60, "1d": 1440}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MarketsTTL time.Duration
	HistoryTTL time.Duration
}

// Client reads the CLOB market list and price history through a cache and a
// shared rate limiter.
type Client struct {
	baseURL    string
	http       *xhttp.Client
	cache      cache.Service
	limiter    *ratelimit.Limiter
	marketsTTL time.Duration
	historyTTL time.Duration
	log        *logger.Logger
}

func New(cfg Config, c cache.Service, limiter *ratelimit.Limiter, log *logger.Logger) drepo.MarketCatalog {
	return NewClient(cfg, c, limiter, log)
}

func NewClient(cfg Config, c cache.Service, limiter *ratelimit.Limiter, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithHeader("User-Agent", "signalfuse")),
		cache:      c,
		limiter:    limiter,
		marketsTTL: cfg.MarketsTTL,
		historyTTL: cfg.HistoryTTL,
		log:        log,
	}
}

type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
}

type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Slug        string      `json:"market_slug"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	Tokens      []clobToken `json:"tokens"`
}

type marketsResponse struct {
	Data       []clobMarket `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

type historyResponse struct {
	History []struct {
		T int64   `json:"t"`
		P float64 `json:"p"`
	} `json:"history"`
}

// TopMarkets returns up to limit open markets, one instrument per market keyed
// by its YES token id.
func (c *Client) TopMarkets(ctx context.Context, limit int) ([]models.Instrument, error) {
	if limit <= 0 {
		limit = 20
	}
	key := cache.Key("catalog", "markets", strconv.Itoa(limit))
	return cache.GetOrLoad(ctx, c.cache, key, c.marketsTTL, func(ctx context.Context) ([]models.Instrument, error) {
		return c.fetchMarkets(ctx, limit)
	})
}

func (c *Client) fetchMarkets(ctx context.Context, limit int) ([]models.Instrument, error) {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, err
	}
	var resp marketsResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + marketsPath,
		QueryParams: map[string][]string{
			"limit":  {strconv.Itoa(limit)},
			"active": {"true"},
			"closed": {"false"},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("clob markets: %w", err)
	}

	out := make([]models.Instrument, 0, limit)
	for _, m := range resp.Data {
		if !m.Active || m.Closed {
			continue
		}
		tok, ok := yesToken(m.Tokens)
		if !ok {
			continue
		}
		symbol := m.Slug
		if symbol == "" {
			symbol = m.ConditionID
		}
		out = append(out, models.Instrument{
			ID:        tok.TokenID,
			Symbol:    symbol,
			Question:  m.Question,
			LastPrice: tok.Price,
		})
		if len(out) == limit {
			break
		}
	}
	c.log.Debug("catalog markets fetched", logger.Int("count", len(out)))
	return out, nil
}

func yesToken(tokens []clobToken) (clobToken, bool) {
	for _, t := range tokens {
		if strings.EqualFold(t.Outcome, "yes") && t.TokenID != "" {
			return t, true
		}
	}
	if len(tokens) > 0 && tokens[0].TokenID != "" {
		return tokens[0], true
	}
	return clobToken{}, false
}

// PriceHistory returns points for instrumentID in ascending time order.
// interval is one of 1m, 1h or 1d.
func (c *Client) PriceHistory(ctx context.Context, instrumentID, interval string) ([]models.PricePoint, error) {
	fid, ok := fidelity[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	key := cache.Key("catalog", "history", instrumentID, interval)
	return cache.GetOrLoad(ctx, c.cache, key, c.historyTTL, func(ctx context.Context) ([]models.PricePoint, error) {
		return c.fetchHistory(ctx, instrumentID, interval, fid)
	})
}

func (c *Client) fetchHistory(ctx context.Context, id, interval string, fid int) ([]models.PricePoint, error) {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, err
	}
	var resp historyResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + historyPath,
		QueryParams: map[string][]string{
			"market":   {id},
			"interval": {interval},
			"fidelity": {strconv.Itoa(fid)},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("clob price history %s: %w", id, err)
	}

	points := make([]models.PricePoint, 0, len(resp.History))
	for _, h := range resp.History {
		if h.T <= 0 {
			continue
		}
		points = append(points, models.PricePoint{Time: time.Unix(h.T, 0).UTC(), Price: h.P})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}
