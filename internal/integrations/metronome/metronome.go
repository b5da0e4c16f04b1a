// Package metronome is a thin client for the Metronome metering API.
package metronome

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dan9191/commit-health/internal/config"
	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("metronome: api key not configured")
	// ErrUpstream marks failed or rejected calls to the API
	ErrUpstream = errors.New("metronome: upstream error")
)

// balanceTypeCommit is the only balance type that becomes a commit record
const balanceTypeCommit = "COMMIT"

// maxPages bounds cursor pagination in case the API keeps returning a cursor
const maxPages = 100

// Client handles integration with the Metronome API
type Client struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewClient initializes a new Metronome client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	burst := int(cfg.MetronomeRPS)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		url:    cfg.MetronomeURL,
		apiKey: cfg.MetronomeAPIKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.MetronomeRPS), burst),
		log:     log,
	}
}

type customerListResponse struct {
	Data []struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		CustomFields map[string]string `json:"custom_fields"`
	} `json:"data"`
	NextPage *string `json:"next_page"`
}

type balance struct {
	ID              string              `json:"id"`
	ContractID      string              `json:"contract_id"`
	BalanceType     string              `json:"contract_balance_type"`
	TotalAmount     decimal.NullDecimal `json:"total_amount"`
	RemainingAmount decimal.NullDecimal `json:"remaining_amount"`
	StartingBalance decimal.NullDecimal `json:"starting_balance"`
	Balance         decimal.NullDecimal `json:"balance"`
	StartDate       string              `json:"start_date"`
	EndDate         string              `json:"end_date"`
	Status          string              `json:"status"`
}

type balanceListResponse struct {
	Data []balance `json:"data"`
}

// ListCustomers returns every customer, following the next_page cursor
func (c *Client) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	cursor := ""
	for page := 0; page < maxPages; page++ {
		path := "/customers/list"
		if cursor != "" {
			path += "?next_page=" + url.QueryEscape(cursor)
		}
		var resp customerListResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list customers: %w", err)
		}
		for _, d := range resp.Data {
			customers = append(customers, models.Customer{
				ID:       d.ID,
				Name:     d.Name,
				Tier:     d.CustomFields["tier"],
				Industry: d.CustomFields["industry"],
			})
		}
		if resp.NextPage == nil || *resp.NextPage == "" {
			break
		}
		cursor = *resp.NextPage
	}
	c.log.Debugf("Fetched %d customers", len(customers))
	return customers, nil
}

// ListBalances returns the commit balances of a customer as commit records.
// Records are not validated here; classification rejects malformed ones.
func (c *Client) ListBalances(ctx context.Context, customerID string) ([]health.CommitRecord, error) {
	var resp balanceListResponse
	body := map[string]string{"customer_id": customerID}
	if err := c.do(ctx, http.MethodPost, "/contracts/customerBalances/list", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to list balances for %s: %w", customerID, err)
	}

	records := make([]health.CommitRecord, 0, len(resp.Data))
	for _, b := range resp.Data {
		if b.BalanceType != balanceTypeCommit {
			continue
		}
		records = append(records, b.toRecord(customerID))
	}
	c.log.WithField("customer_id", customerID).Debugf("Fetched %d commit balances", len(records))
	return records, nil
}

func (b balance) toRecord(customerID string) health.CommitRecord {
	contractID := b.ContractID
	if contractID == "" {
		contractID = b.ID
	}
	return health.CommitRecord{
		ContractID:      contractID,
		CustomerID:      customerID,
		TotalAmount:     firstValid(b.TotalAmount, b.StartingBalance),
		RemainingAmount: firstValid(b.RemainingAmount, b.Balance),
		StartDate:       ParseDate(b.StartDate),
		EndDate:         ParseDate(b.EndDate),
		Status:          strings.ToLower(b.Status),
	}
}

func firstValid(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

// ParseDate accepts the API's RFC 3339 timestamps and plain dates; anything
// else is the zero time.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t
	}
	return time.Time{}
}

// do sends an authenticated JSON request and decodes the response into out
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d - %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
