// Package fec is the client for the campaign-finance API: candidate search,
// committees and itemized receipts (Schedule A).
package fec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fecsync/internal/finance/models"
)

const (
	defaultBaseURL  = "https://api.open.fec.gov/v1"
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	maxErrorBody    = 512
)

// Designations accepted by CandidateCommittees.
const (
	DesignationPrincipal  = "P"
	DesignationAuthorized = "A"
)

// Client calls the campaign-finance API. It performs one attempt per call;
// pacing and retries belong to the caller.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPageSize sets per_page for receipt pages. The API caps it at 100.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= defaultPageSize {
			c.pageSize = n
		}
	}
}

// NewClient creates a client. An empty apiKey is accepted here and reported
// as a config error on the first call.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize is the per_page value sent with receipt requests. A page holding
// fewer rows is the last one.
func (c *Client) PageSize() int {
	return c.pageSize
}

// ReceiptQuery selects one page of a committee's itemized receipts.
type ReceiptQuery struct {
	CommitteeID string
	Cycle       int
	After       *models.Cursor
}

// ReceiptPage is one page of receipts plus the keyset position after it.
type ReceiptPage struct {
	Transactions []models.Transaction
	Next         *models.Cursor
	TotalCount   int
}

// Receipts fetches one page of Schedule A receipts, newest first.
func (c *Client) Receipts(ctx context.Context, q ReceiptQuery) (*ReceiptPage, error) {
	const op = "receipts"
	if strings.TrimSpace(q.CommitteeID) == "" {
		return nil, newError(CategoryConfig, op, "committee id is required", nil)
	}

	query := url.Values{}
	query.Set("committee_id", q.CommitteeID)
	query.Set("two_year_transaction_period", strconv.Itoa(q.Cycle))
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("sort", "-contribution_receipt_date")
	if !q.After.Empty() {
		query.Set("last_index", q.After.LastIndex)
		if q.After.LastDate != "" {
			query.Set("last_contribution_receipt_date", q.After.LastDate)
		}
	}

	var resp scheduleAResponse
	if err := c.get(ctx, op, "/schedules/schedule_a/", query, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return nil, newError(CategoryBadData, op, "response has no results array", nil)
	}

	page := &ReceiptPage{Transactions: make([]models.Transaction, 0, len(resp.Results))}
	for _, row := range resp.Results {
		page.Transactions = append(page.Transactions, row.toTransaction(q.CommitteeID, q.Cycle))
	}
	if resp.Pagination != nil {
		page.TotalCount = resp.Pagination.Count
		if li := resp.Pagination.LastIndexes; li != nil && li.LastIndex != "" {
			page.Next = &models.Cursor{
				LastIndex: string(li.LastIndex),
				LastDate:  li.LastContributionReceiptDate,
				Cycle:     q.Cycle,
			}
		}
	}
	return page, nil
}

// SearchQuery is a fuzzy candidate-name search.
type SearchQuery struct {
	Name   string
	State  string
	Office models.Office
}

// CandidateResult is one candidate returned by the search API.
type CandidateResult struct {
	CandidateID           string
	Name                  string
	State                 string
	Office                models.Office
	District              string
	Cycles                []int
	PrincipalCommitteeIDs []string
}

// ActiveIn reports whether the candidate filed in cycle.
func (r CandidateResult) ActiveIn(cycle int) bool {
	for _, c := range r.Cycles {
		if c == cycle {
			return true
		}
	}
	return false
}

// SearchCandidates runs the fuzzy name search.
func (c *Client) SearchCandidates(ctx context.Context, q SearchQuery) ([]CandidateResult, error) {
	const op = "search_candidates"
	if strings.TrimSpace(q.Name) == "" {
		return nil, newError(CategoryBadData, op, "name is required", nil)
	}
	query := url.Values{}
	query.Set("q", q.Name)
	query.Set("per_page", "20")
	if q.State != "" {
		query.Set("state", q.State)
	}
	if q.Office != "" {
		query.Set("office", string(q.Office))
	}

	var resp candidateSearchResponse
	if err := c.get(ctx, op, "/candidates/search/", query, &resp); err != nil {
		return nil, err
	}
	out := make([]CandidateResult, 0, len(resp.Results))
	for _, row := range resp.Results {
		out = append(out, row.toResult())
	}
	return out, nil
}

// CommitteeResult is one committee record.
type CommitteeResult struct {
	CommitteeID string
	Name        string
	Designation string
	Type        string
}

// CandidateCommittees lists a candidate's committees with the given
// designation (DesignationPrincipal or DesignationAuthorized).
func (c *Client) CandidateCommittees(ctx context.Context, candidateID, designation string) ([]CommitteeResult, error) {
	const op = "candidate_committees"
	if strings.TrimSpace(candidateID) == "" {
		return nil, newError(CategoryConfig, op, "candidate id is required", nil)
	}
	query := url.Values{}
	query.Set("designation", designation)
	query.Set("per_page", "100")

	var resp committeeResponse
	path := "/candidate/" + url.PathEscape(candidateID) + "/committees/"
	if err := c.get(ctx, op, path, query, &resp); err != nil {
		return nil, err
	}
	out := make([]CommitteeResult, 0, len(resp.Results))
	for _, row := range resp.Results {
		out = append(out, row.toResult())
	}
	return out, nil
}

// Committee looks up one committee by id.
func (c *Client) Committee(ctx context.Context, committeeID string) (*CommitteeResult, error) {
	const op = "committee"
	if strings.TrimSpace(committeeID) == "" {
		return nil, newError(CategoryConfig, op, "committee id is required", nil)
	}
	var resp committeeResponse
	if err := c.get(ctx, op, "/committee/"+url.PathEscape(committeeID)+"/", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, newError(CategoryNotFound, op, "committee "+committeeID+" not found", nil)
	}
	result := resp.Results[0].toResult()
	return &result, nil
}

// get performs one authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		return newError(CategoryConfig, op, "api key is not configured", nil)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return newError(CategoryConfig, op, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
		return newError(CategoryTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "fec request",
		"op", op,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(CategoryTransient, op, "failed to read response", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(CategoryBadData, op, "failed to parse response", err)
	}
	return nil
}

func statusError(op string, resp *http.Response) *Error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Category = CategoryThrottled
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Category = CategoryConfig
	case resp.StatusCode == http.StatusNotFound:
		e.Category = CategoryNotFound
	case resp.StatusCode >= 500:
		e.Category = CategoryTransient
	default:
		e.Category = CategoryBadData
	}
	return e
}

// Describe formats err for a human-readable sync message.
func Describe(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Category {
		case CategoryThrottled:
			return "upstream API rate limit exceeded"
		case CategoryConfig:
			return fmt.Sprintf("upstream configuration error: %s", fe.Message)
		}
	}
	return err.Error()
}
