package store

import (
	"context"

	"github.com/sells-group/address-pipeline/internal/db"
	"github.com/sells-group/address-pipeline/internal/model"
)

// ResultArchiver is an optional store capability: keep a queryable copy of
// every standardized result alongside the output artifact. Drivers without
// a fast bulk path simply do not implement it.
type ResultArchiver interface {
	ArchiveResults(ctx context.Context, jobID string, results []model.StandardizedResult) (int64, error)
}

var resultColumns = []string{
	"job_id", "global_index", "formatted", "street_number", "street_name",
	"unit", "city", "state", "postal_code", "country",
	"confidence", "status", "source", "error",
}

// ArchiveResults bulk-inserts a job's results via the COPY protocol. Rows for
// the job cascade away when the job itself is deleted.
func (s *PostgresStore) ArchiveResults(ctx context.Context, jobID string, results []model.StandardizedResult) (int64, error) {
	rows := make([][]any, len(results))
	for i, r := range results {
		rows[i] = []any{
			jobID, r.GlobalIndex, r.FormattedAddress,
			r.Components.StreetNumber, r.Components.StreetName, r.Components.Unit,
			r.Components.City, r.Components.State, r.Components.PostalCode,
			r.Components.Country,
			string(r.Confidence), string(r.Status), string(r.Source), r.Error,
		}
	}
	return db.CopyFrom(ctx, s.pool, "standardized_results", resultColumns, rows)
}
