package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"watch-arbitrage/internal/model"
)

// CSVProvider reads a comma-separated snapshot with a header row.
type CSVProvider struct {
	path   string
	brand  string
	logger zerolog.Logger
}

// NewCSVProvider returns a provider for the file at path, keeping rows of brand
// when the snapshot has a brand column.
func NewCSVProvider(path, brand string, logger zerolog.Logger) *CSVProvider {
	return &CSVProvider{path: path, brand: brand, logger: logger.With().Str("component", "csv_provider").Logger()}
}

// Fetch reads the whole snapshot.
func (p *CSVProvider) Fetch(ctx context.Context) ([]model.RawObservation, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	obs, err := ReadCSV(ctx, f, p.brand)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	p.logger.Info().Str("path", p.path).Int("rows", len(obs)).Msg("snapshot loaded")
	return obs, nil
}

// ReadCSV decodes a CSV snapshot from r.
func ReadCSV(ctx context.Context, r io.Reader, brand string) ([]model.RawObservation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("snapshot is empty")
		}
		return nil, err
	}

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return decodeRows(header, rows, brand)
}

var _ Provider = (*CSVProvider)(nil)
