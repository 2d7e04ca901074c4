package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gosom/scrapemate"

	"github.com/placecrawl/placecrawl/gmaps"
)

var _ scrapemate.ResultWriter = (*resultWriter)(nil)

type resultWriter struct {
	db *sql.DB
}

func NewResultWriter(db *sql.DB) scrapemate.ResultWriter {
	return &resultWriter{db: db}
}

func (r *resultWriter) Run(ctx context.Context, in <-chan scrapemate.Result) error {
	for result := range in {
		entry, ok := result.Data.(*gmaps.PlaceResult)
		if !ok {
			return fmt.Errorf("postgres: unexpected result type %T", result.Data)
		}

		if err := r.save(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func (r *resultWriter) save(ctx context.Context, entry *gmaps.PlaceResult) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("postgres: marshal result: %w", err)
	}

	const q = `INSERT INTO results (place_id, search_string, failed, data)
		VALUES ($1, $2, $3, $4)`

	_, err = r.db.ExecContext(ctx, q,
		entry.PlaceID, entry.SearchString, entry.Failed, data)

	return err
}

// ResultCount reports the number of durably written successful results.
// The exit monitor uses it to confirm completion before cancelling.
type ResultCount struct {
	DB *sql.DB
}

func (c ResultCount) Count(ctx context.Context) (int, error) {
	var n int

	err := c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE failed = FALSE`).Scan(&n)
	if err != nil {
		return 0, err
	}

	return n, nil
}
