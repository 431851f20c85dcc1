// internal/migration/status.go
//
// Read-only migration diagnostics.
//
// Context
// -------
// Early deployments stored whole field plans in a single legacy table
// (`field_plans`).  The current schema splits them into layouts with child
// zones and assets.  The UI shows a one-time banner until the copy has
// caught up; this package answers "has it?", nothing more.  It never
// mutates, so there are no concurrency concerns here.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// State is the coarse migration classification shown to operators.
type State string

const (
	StateNoMigrationNeeded State = "no_migration_needed"
	StateComplete          State = "migration_complete"
	StateNeeded            State = "migration_needed"
)

// legacyTable is the pre-split plan store.  Fresh installs never create
// it, which the reporter treats the same as an empty one.
const legacyTable = "field_plans"

// Status is the full diagnostic payload.
type Status struct {
	State        State  `json:"state"`
	LegacyCount  int64  `json:"legacy_count"`
	CurrentCount int64  `json:"current_count"`
	LegacyExists bool   `json:"legacy_exists"`
	Message      string `json:"message"`
}

// Reporter compares legacy and current row counts.
type Reporter struct {
	db *sqlx.DB
}

func NewReporter(db *sqlx.DB) *Reporter {
	return &Reporter{db: db}
}

// Check reads both counts and classifies.  A missing legacy table is a
// normal condition (fresh install), not an error.
func (r *Reporter) Check(ctx context.Context) (*Status, error) {
	legacy, exists, err := r.legacyCount(ctx)
	if err != nil {
		return nil, err
	}

	var current int64
	if err := r.db.GetContext(ctx, &current, `SELECT COUNT(*) FROM layouts`); err != nil {
		return nil, fmt.Errorf("count layouts: %w", err)
	}

	st := classify(legacy, current, exists)
	return &st, nil
}

// legacyCount counts the legacy table, reporting absence separately.
// MySQL error 1146 (ER_NO_SUCH_TABLE) means the table was never created.
func (r *Reporter) legacyCount(ctx context.Context) (count int64, exists bool, err error) {
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM `+legacyTable); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1146 {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("count %s: %w", legacyTable, err)
	}
	return count, true, nil
}

// classify is the pure decision core.
func classify(legacy, current int64, legacyExists bool) Status {
	st := Status{
		LegacyCount:  legacy,
		CurrentCount: current,
		LegacyExists: legacyExists,
	}
	switch {
	case !legacyExists:
		st.State = StateNoMigrationNeeded
		st.Message = "legacy table absent; nothing to migrate"
	case legacy == 0:
		st.State = StateNoMigrationNeeded
		st.Message = "legacy table empty; nothing to migrate"
	case current >= legacy:
		st.State = StateComplete
		st.Message = fmt.Sprintf("all %d legacy plans migrated (%d layouts present)", legacy, current)
	default:
		st.State = StateNeeded
		st.Message = fmt.Sprintf("%d of %d legacy plans still unmigrated", legacy-current, legacy)
	}
	return st
}
