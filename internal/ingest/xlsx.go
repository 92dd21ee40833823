package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"watch-arbitrage/internal/model"
)

// XLSXProvider reads an Excel workbook snapshot.
type XLSXProvider struct {
	path   string
	sheet  string
	brand  string
	logger zerolog.Logger
}

// NewXLSXProvider returns a provider for the workbook at path. An empty sheet
// selects the first sheet of the workbook.
func NewXLSXProvider(path, sheet, brand string, logger zerolog.Logger) *XLSXProvider {
	return &XLSXProvider{
		path:   path,
		sheet:  sheet,
		brand:  brand,
		logger: logger.With().Str("component", "xlsx_provider").Logger(),
	}
}

// Fetch reads the configured sheet; the first non-blank row is the header.
func (p *XLSXProvider) Fetch(ctx context.Context) ([]model.RawObservation, error) {
	f, err := excelize.OpenFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := p.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	obs, err := decodeRows(rows[0], rows[1:], p.brand)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	p.logger.Info().Str("path", p.path).Str("sheet", sheet).Int("rows", len(obs)).Msg("workbook loaded")
	return obs, nil
}

var _ Provider = (*XLSXProvider)(nil)
