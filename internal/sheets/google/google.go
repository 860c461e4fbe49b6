package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledgersheet/internal/cache"
	"ledgersheet/internal/core"
	"ledgersheet/internal/log"
	ports "ledgersheet/internal/sheets"
)

// sheetTTL bounds how long a confirmed sheet is trusted before its
// existence is checked again.
const sheetTTL = 10 * time.Minute

// Ensure interface conformance
var _ ports.DatasetPublisher = (*Client)(nil)

// Config selects the target spreadsheet and the service account credentials.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	knownSheets   *cache.LRUCache[bool]
	logger        *log.Logger
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewWithService wraps an existing service. Tests point it at a fake endpoint.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string, logger *log.Logger) *Client {
	if sheetName == "" {
		sheetName = "Dados"
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		knownSheets:   cache.NewLRUCache[bool](16, sheetTTL),
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

func credentials(cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Publish clears the target sheet and writes ds into it starting at A1.
// The sheet is created when the spreadsheet does not have it yet.
func (c *Client) Publish(ctx context.Context, ds *core.Dataset) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if err := c.ensureSheet(ctx); err != nil {
		return "", err
	}

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, c.sheetName, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		// The sheet may have been removed since it was confirmed.
		c.forgetSheet()
		return "", fmt.Errorf("clear sheet %s: %w", c.sheetName, err)
	}

	grid := ports.Grid(ds)
	width := len(ds.Columns)
	if width == 0 {
		width = 1
	}
	last, err := excelize.CoordinatesToCellName(width, len(grid))
	if err != nil {
		return "", err
	}
	rng := fmt.Sprintf("%s!A1:%s", c.sheetName, last)
	vr := &gsheet.ValueRange{Range: rng, MajorDimension: "ROWS", Values: grid}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}

	c.logger.InfoContext(ctx, "Dataset published",
		log.FieldDataset, ds.Name,
		log.FieldRows, len(ds.Rows),
		log.FieldSheetsRef, rng)
	return rng, nil
}

func (c *Client) sheetKey() string {
	return c.spreadsheetID + "/" + c.sheetName
}

func (c *Client) forgetSheet() {
	if c.knownSheets != nil {
		c.knownSheets.Delete(c.sheetKey())
	}
}

func (c *Client) ensureSheet(ctx context.Context) error {
	if c.knownSheets != nil {
		if _, ok := c.knownSheets.Get(c.sheetKey()); ok {
			return nil
		}
	}
	if err := c.lookupOrAddSheet(ctx); err != nil {
		return err
	}
	if c.knownSheets != nil {
		c.knownSheets.Set(c.sheetKey(), true)
	}
	return nil
}

func (c *Client) lookupOrAddSheet(ctx context.Context) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields(googleapi.Field("sheets.properties.title")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.sheetName {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: c.sheetName}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", c.sheetName, err)
	}
	c.logger.InfoContext(ctx, "Sheet created", "sheet", c.sheetName)
	return nil
}
