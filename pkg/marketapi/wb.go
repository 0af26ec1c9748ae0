// Package marketapi wraps the marketplace seller APIs behind typed
// methods and exposes each endpoint as a fetcher.FetchFunc, so the
// chunked pipeline stays agnostic of any one marketplace's quirks.
package marketapi

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/chunker"
	"github.com/sellerpulse/marketfetch/pkg/fetcher"
	"github.com/sellerpulse/marketfetch/pkg/records"
	"github.com/sellerpulse/marketfetch/pkg/transport"
)

// Default Wildberries API hosts.
const (
	WBStatsBaseURL = "https://statistics-api.wildberries.ru"
	WBAdvBaseURL   = "https://advert-api.wildberries.ru"
)

// wbFetchLimit caps rows per statistics request. The statistics API
// serves whole chunks in one response up to this limit.
const wbFetchLimit = 100000

// WBConfig configures the Wildberries client. One seller token covers
// both the statistics and the advertising host.
type WBConfig struct {
	StatsBaseURL string
	AdvBaseURL   string
	Token        string
}

// WBClient calls the Wildberries seller APIs.
type WBClient struct {
	stats  *transport.Client
	adv    *transport.Client
	logger zerolog.Logger
}

// NewWB creates a Wildberries client. Empty base URLs default to the
// production hosts.
func NewWB(cfg WBConfig, logger zerolog.Logger) (*WBClient, error) {
	if cfg.StatsBaseURL == "" {
		cfg.StatsBaseURL = WBStatsBaseURL
	}
	if cfg.AdvBaseURL == "" {
		cfg.AdvBaseURL = WBAdvBaseURL
	}

	stats, err := transport.New(transport.DefaultConfig(cfg.StatsBaseURL, cfg.Token), logger)
	if err != nil {
		return nil, err
	}
	adv, err := transport.New(transport.DefaultConfig(cfg.AdvBaseURL, cfg.Token), logger)
	if err != nil {
		return nil, err
	}
	return &WBClient{stats: stats, adv: adv, logger: logger}, nil
}

func wbRangeQuery(from, to time.Time) url.Values {
	return url.Values{
		"dateFrom": {from.Format(chunker.DateFormat)},
		"dateTo":   {to.Format(chunker.DateFormat)},
		"limit":    {strconv.Itoa(wbFetchLimit)},
	}
}

// Sales returns the sales and returns rows for [from, to]. The endpoint
// responds with a bare JSON array.
func (c *WBClient) Sales(ctx context.Context, from, to time.Time) ([]records.Sale, error) {
	var sales []records.Sale
	if err := c.stats.GetJSON(ctx, "/api/v1/supplier/sales", wbRangeQuery(from, to), &sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// Orders returns the order rows for [from, to].
func (c *WBClient) Orders(ctx context.Context, from, to time.Time) ([]records.Order, error) {
	var orders []records.Order
	if err := c.stats.GetJSON(ctx, "/api/v1/supplier/orders", wbRangeQuery(from, to), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Stocks returns the current warehouse stock snapshot. The endpoint
// still wants a dateFrom cursor; the epoch start means "everything".
func (c *WBClient) Stocks(ctx context.Context) ([]records.Stock, error) {
	query := url.Values{"dateFrom": {"2019-01-01"}}
	var stocks []records.Stock
	if err := c.stats.GetJSON(ctx, "/api/v1/supplier/stocks", query, &stocks); err != nil {
		return nil, err
	}
	return stocks, nil
}

// AdvFullStats returns the advertising aggregate for [from, to]: summed
// counters plus the per-campaign breakdown.
func (c *WBClient) AdvFullStats(ctx context.Context, from, to time.Time) (*records.AdvStats, error) {
	query := url.Values{
		"dateFrom": {from.Format(chunker.DateFormat)},
		"dateTo":   {to.Format(chunker.DateFormat)},
	}
	var stats records.AdvStats
	if err := c.adv.GetJSON(ctx, "/adv/v1/fullstats", query, &stats); err != nil {
		return nil, err
	}
	stats.DateFrom = from.Format(chunker.DateFormat)
	stats.DateTo = to.Format(chunker.DateFormat)
	return &stats, nil
}

// SalesFetch adapts Sales to the chunked pipeline.
func (c *WBClient) SalesFetch() fetcher.FetchFunc {
	return func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		sales, err := c.Sales(ctx, from, to)
		if err != nil {
			return nil, err
		}
		recs := make([]records.Record, 0, len(sales))
		for _, s := range sales {
			recs = append(recs, s)
		}
		return recs, nil
	}
}

// OrdersFetch adapts Orders to the chunked pipeline.
func (c *WBClient) OrdersFetch() fetcher.FetchFunc {
	return func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		orders, err := c.Orders(ctx, from, to)
		if err != nil {
			return nil, err
		}
		recs := make([]records.Record, 0, len(orders))
		for _, o := range orders {
			recs = append(recs, o)
		}
		return recs, nil
	}
}

// AdvStatsFetch adapts AdvFullStats to the chunked pipeline: each chunk
// yields one aggregate record, merged later with MergeAdvStats.
func (c *WBClient) AdvStatsFetch() fetcher.FetchFunc {
	return func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		stats, err := c.AdvFullStats(ctx, from, to)
		if err != nil {
			return nil, err
		}
		return []records.Record{stats}, nil
	}
}

// SalesCodec round-trips sales chunks through the cache.
func SalesCodec() *fetcher.Codec {
	return fetcher.JSONCodec[records.Sale]()
}

// OrdersCodec round-trips order chunks through the cache.
func OrdersCodec() *fetcher.Codec {
	return fetcher.JSONCodec[records.Order]()
}
