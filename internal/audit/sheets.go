package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/retry"
)

// SheetsSink appends audit rows to a Google spreadsheet with a "Processed
// Videos" and an "Errors" tab.
type SheetsSink struct {
	svc           *sheets.Service
	SpreadsheetID string
	Title         string
	Retry         retry.Config

	mu sync.Mutex
}

// NewSheetsSink connects to the Sheets API. Call Ensure before Append.
func NewSheetsSink(ctx context.Context, spreadsheetID, title string, opts ...option.ClientOption) (*SheetsSink, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsSink{
		svc:           svc,
		SpreadsheetID: spreadsheetID,
		Title:         title,
		Retry:         retry.DefaultConfig(),
	}, nil
}

// Ensure creates the spreadsheet when no id is configured and adds missing
// tabs with their header rows. It returns the spreadsheet id.
func (s *SheetsSink) Ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SpreadsheetID == "" {
		created, err := s.svc.Spreadsheets.Create(&sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{Title: s.Title},
			Sheets: []*sheets.Sheet{
				{Properties: &sheets.SheetProperties{Title: TabProcessed}},
				{Properties: &sheets.SheetProperties{Title: TabErrors}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("create spreadsheet: %w", err)
		}
		s.SpreadsheetID = created.SpreadsheetId
		log.Info().Str("spreadsheet_id", s.SpreadsheetID).Str("url", created.SpreadsheetUrl).Msg("audit: spreadsheet created")
		for tab, header := range map[string][]any{TabProcessed: processedHeader, TabErrors: errorsHeader} {
			if err := s.appendRow(ctx, tab, header); err != nil {
				return "", err
			}
		}
		return s.SpreadsheetID, nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.SpreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	have := map[string]bool{}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			have[sh.Properties.Title] = true
		}
	}
	for _, tab := range []string{TabProcessed, TabErrors} {
		if have[tab] {
			continue
		}
		_, err := s.svc.Spreadsheets.BatchUpdate(s.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: tab}}}},
		}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("add tab %q: %w", tab, err)
		}
		header := processedHeader
		if tab == TabErrors {
			header = errorsHeader
		}
		if err := s.appendRow(ctx, tab, header); err != nil {
			return "", err
		}
	}
	return s.SpreadsheetID, nil
}

// Append writes one row for ev.
func (s *SheetsSink) Append(ctx context.Context, ev domain.AuditEvent) error {
	tab, row := Row(Normalize(ev))
	return s.appendRow(ctx, tab, row)
}

func (s *SheetsSink) appendRow(ctx context.Context, tab string, row []any) error {
	vr := &sheets.ValueRange{Values: [][]any{row}}
	return retry.Do(ctx, s.Retry, retry.IsRetryable, func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.Append(s.SpreadsheetID, quoteTab(tab)+"!A1", vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return permanentIfClientError(fmt.Errorf("append to %s: %w", tab, err))
		}
		return nil
	})
}

func permanentIfClientError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 &&
		gerr.Code != http.StatusRequestTimeout && gerr.Code != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
