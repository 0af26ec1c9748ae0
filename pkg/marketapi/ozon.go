package marketapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellerpulse/marketfetch/pkg/fetcher"
	"github.com/sellerpulse/marketfetch/pkg/records"
	"github.com/sellerpulse/marketfetch/pkg/transport"
)

// OzonBaseURL is the default Ozon seller API host.
const OzonBaseURL = "https://api-seller.ozon.ru"

// ozonPageLimit caps postings per page; the API paginates with an
// offset cursor.
const ozonPageLimit = 1000

// OzonConfig configures the Ozon client. Ozon authenticates with a
// Client-Id / Api-Key header pair instead of an Authorization header.
type OzonConfig struct {
	BaseURL  string
	ClientID string
	APIKey   string
}

// OzonClient calls the Ozon seller API.
type OzonClient struct {
	client *transport.Client
	logger zerolog.Logger
}

// NewOzon creates an Ozon client.
func NewOzon(cfg OzonConfig, logger zerolog.Logger) (*OzonClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OzonBaseURL
	}
	tcfg := transport.DefaultConfig(cfg.BaseURL, "")
	tcfg.Headers = map[string]string{
		"Client-Id": cfg.ClientID,
		"Api-Key":   cfg.APIKey,
	}
	client, err := transport.New(tcfg, logger)
	if err != nil {
		return nil, err
	}
	return &OzonClient{client: client, logger: logger}, nil
}

type ozonPostingFilter struct {
	Since string `json:"since"`
	To    string `json:"to"`
}

type ozonPostingRequest struct {
	Filter ozonPostingFilter `json:"filter"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type ozonPostingResponse struct {
	Result struct {
		Postings []records.Posting `json:"postings"`
		HasNext  bool              `json:"has_next"`
	} `json:"result"`
}

// Postings returns the FBS postings created in [from, to], following
// the offset cursor until the API reports no further pages. The range
// bounds are widened to whole days in UTC.
func (c *OzonClient) Postings(ctx context.Context, from, to time.Time) ([]records.Posting, error) {
	filter := ozonPostingFilter{
		Since: from.UTC().Format(time.RFC3339),
		To:    to.UTC().Add(24*time.Hour - time.Second).Format(time.RFC3339),
	}

	var all []records.Posting
	for offset := 0; ; offset += ozonPageLimit {
		req := ozonPostingRequest{Filter: filter, Limit: ozonPageLimit, Offset: offset}
		var resp ozonPostingResponse
		if err := c.client.PostJSON(ctx, "/v3/posting/fbs/list", req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Result.Postings...)
		if !resp.Result.HasNext {
			return all, nil
		}
	}
}

// PostingsFetch adapts Postings to the chunked pipeline.
func (c *OzonClient) PostingsFetch() fetcher.FetchFunc {
	return func(ctx context.Context, from, to time.Time) ([]records.Record, error) {
		postings, err := c.Postings(ctx, from, to)
		if err != nil {
			return nil, err
		}
		recs := make([]records.Record, 0, len(postings))
		for _, p := range postings {
			recs = append(recs, p)
		}
		return recs, nil
	}
}

// PostingsCodec round-trips posting chunks through the cache.
func PostingsCodec() *fetcher.Codec {
	return fetcher.JSONCodec[records.Posting]()
}
