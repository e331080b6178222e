package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"license-validation-service/internal/config"
	"license-validation-service/internal/model"
)

// SheetSyncService mirrors license binding state to a Google Sheet so
// operators can watch it without database access. It only writes the sheet;
// the database stays the sole source of truth.
type SheetSyncService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// NewSheetSyncService builds the mirror from service-account credentials.
// Returns nil when syncing is disabled; a nil receiver is a no-op.
func NewSheetSyncService(cfg config.SheetSyncConfig, logger *slog.Logger) (*SheetSyncService, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()

	b, err := os.ReadFile(cfg.CredentialPath)
	if err != nil {
		return nil, fmt.Errorf("reading sheet credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("loading sheet credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}

	return &SheetSyncService{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger,
	}, nil
}

// SyncLicense updates the sheet row for lic, appending one if the key is not
// present yet. Columns: key, owner, expires, machine, last validated, updated.
func (s *SheetSyncService) SyncLicense(lic *model.License) error {
	if s == nil {
		return nil
	}

	searchRange := fmt.Sprintf("%s!A2:A", s.sheetName)
	keyResp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, searchRange).Do()
	if err != nil {
		return fmt.Errorf("reading sheet keys: %w", err)
	}

	rowIndex := 0
	for i, row := range keyResp.Values {
		if len(row) > 0 && row[0] == lic.LicenseKey {
			rowIndex = i + 2 // data starts at A2
			break
		}
	}

	lastValidated := ""
	if !lic.LastValidatedAt.IsZero() {
		lastValidated = lic.LastValidatedAt.Format(time.RFC3339)
	}

	values := [][]interface{}{{
		lic.LicenseKey,
		lic.OwnerName,
		lic.ExpiresAt,
		lic.ActiveMachineID,
		lastValidated,
		lic.UpdatedAt.Format(time.RFC3339),
	}}

	if rowIndex > 0 {
		rangeData := fmt.Sprintf("%s!A%d:F%d", s.sheetName, rowIndex, rowIndex)
		_, err = s.service.Spreadsheets.Values.Update(
			s.spreadsheetID,
			rangeData,
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(
			s.spreadsheetID,
			s.sheetName+"!A2:F",
			&sheets.ValueRange{Values: values},
		).ValueInputOption("USER_ENTERED").Do()
	}
	if err != nil {
		return fmt.Errorf("writing sheet row: %w", err)
	}

	s.logger.Info("mirrored license to sheet", "license_key", lic.LicenseKey)
	return nil
}
