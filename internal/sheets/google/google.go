package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ritten/internal/core"
	applog "ritten/internal/log"
	ports "ritten/internal/sheets"
)

const rowCacheDuration = 10 * time.Minute

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	workSheet     string
	summarySheet  string
	logger        *applog.Logger
	now           func() time.Time

	// Summary row numbers by fiscal year label, refreshed after rowCacheDuration
	mu                 sync.Mutex
	summaryRows        map[string]int
	nextSummaryRow     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var (
	_ ports.WorkMileageSource = (*Client)(nil)
	_ ports.SummaryWriter     = (*Client)(nil)
)

// Options names the spreadsheet and its two sheets.
type Options struct {
	SpreadsheetID    string
	WorkSheetName    string
	SummarySheetName string
}

// New creates a Sheets client authenticated with service account credentials from
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, opts Options, logger *applog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	credentialsJSON, err := serviceAccountCredentials()
	if err != nil {
		return nil, err
	}

	svc, err := newSheetsService(ctx, credentialsJSON)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return newClient(svc, opts, logger), nil
}

func newClient(svc *gsheet.Service, opts Options, logger *applog.Logger) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      opts.SpreadsheetID,
		workSheet:          strings.TrimSpace(opts.WorkSheetName),
		summarySheet:       strings.TrimSpace(opts.SummarySheetName),
		logger:             logger.WithComponent(applog.ComponentSheets),
		now:                time.Now,
		cacheValidDuration: rowCacheDuration,
	}
}

func serviceAccountCredentials() ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newSheetsService authenticates through an oauth2 token source layered on the pooled transport.
func newSheetsService(ctx context.Context, credentialsJSON []byte) (*gsheet.Service, error) {
	creds, err := googleoauth.CredentialsFromJSON(ctx, credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := oauth2.NewClient(baseCtx, creds.TokenSource)
	httpClient.Timeout = 60 * time.Second

	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// FetchWorkMileage reads month keys from column A and work km from column B.
func (c *Client) FetchWorkMileage(ctx context.Context) (core.WorkMileageTable, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:B", c.workSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	table, skipped, err := parseWorkRows(resp.Values)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rng, err)
	}
	if skipped > 0 {
		c.logger.DebugContext(ctx, "Skipped non-month rows", "sheet", c.workSheet, "skipped", skipped)
	}
	return table, nil
}

// WriteSummary updates the row of s.FiscalYear in the summary sheet, appending
// it when the fiscal year has no row yet.
func (c *Client) WriteSummary(ctx context.Context, s core.Summary) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	row, err := c.summaryRow(ctx, s.FiscalYear)
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!A%d:E%d", c.summarySheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{summaryValues(s, c.now())}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.invalidateRows()
		return fmt.Errorf("update %s: %w", rng, err)
	}

	c.logger.InfoContext(ctx, "Summary row written",
		applog.FieldFiscalYear, s.FiscalYear,
		"range", rng)
	return nil
}

// summaryRow returns the 1-based row for label, reserving the next free row for new labels.
func (c *Client) summaryRow(ctx context.Context, label string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.summaryRows == nil || !c.now().Before(c.cacheExpiresAt) {
		rng := fmt.Sprintf("%s!A:A", c.summarySheet)
		resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", rng, err)
		}
		c.summaryRows, c.nextSummaryRow = indexSummaryRows(resp.Values)
		c.cacheExpiresAt = c.now().Add(c.cacheValidDuration)
	}

	if row, ok := c.summaryRows[label]; ok {
		return row, nil
	}
	row := c.nextSummaryRow
	c.summaryRows[label] = row
	c.nextSummaryRow++
	return row, nil
}

func (c *Client) invalidateRows() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaryRows = nil
}
