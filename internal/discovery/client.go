// Package discovery seeds the monitored-account set from an off-chain
// indexer that tracks borrowers of the lending pool.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Options configure indexer access.
type Options struct {
	BaseURL        string
	PageSize       int
	RequestTimeout time.Duration
	UserAgent      string
}

// Client pages borrower addresses out of the indexer API.
type Client struct {
	baseURL   string
	pageSize  int
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewClient constructs an indexer client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		pageSize:  pageSize,
		userAgent: opts.UserAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "discovery").Logger(),
	}
}

type accountsPage struct {
	Accounts []struct {
		Address string `json:"address"`
	} `json:"accounts"`
	NextCursor string `json:"next_cursor"`
}

// FetchAccounts walks every page of borrower addresses. Addresses are
// normalised to checksum form and de-duplicated; malformed entries are
// dropped with a warning.
func (c *Client) FetchAccounts(ctx context.Context) ([]string, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("discovery base url is not configured")
	}

	seen := make(map[string]struct{})
	var addresses []string

	cursor := ""
	for page := 0; ; page++ {
		batch, next, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch accounts page %d: %w", page, err)
		}

		for _, raw := range batch {
			if !common.IsHexAddress(raw) {
				c.logger.Warn().Str("address", raw).Msg("dropping malformed address from indexer")
				continue
			}
			addr := common.HexToAddress(raw).Hex()
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			addresses = append(addresses, addr)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	c.logger.Info().Int("accounts", len(addresses)).Msg("account discovery complete")
	return addresses, nil
}

func (c *Client) fetchPage(ctx context.Context, cursor string) ([]string, string, error) {
	endpoint, err := url.Parse(c.baseURL + "/accounts")
	if err != nil {
		return nil, "", fmt.Errorf("parse indexer url: %w", err)
	}

	query := endpoint.Query()
	query.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create indexer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("send indexer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("indexer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page accountsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode indexer response: %w", err)
	}

	out := make([]string, 0, len(page.Accounts))
	for _, acct := range page.Accounts {
		out = append(out, acct.Address)
	}
	return out, page.NextCursor, nil
}
