package cycle

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/domain"
)

// LogRepository persists the per-cycle audit trail in core.db. Entries are
// append-only; one row per attempt, including failed attempts.
type LogRepository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewLogRepository creates a cycle log repository.
func NewLogRepository(coreDB *sql.DB, log zerolog.Logger) *LogRepository {
	return &LogRepository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "cycle_log").Logger(),
	}
}

const cycleLogColumns = `id, status, snapshot, signal, plan, tx, reward, error, started_at, finished_at`

// InsertTx appends a cycle log inside an open transaction. Used on the
// success path so the log commits atomically with the cycle's mutations.
func (r *LogRepository) InsertTx(tx *sql.Tx, entry domain.CycleLog) error {
	args, err := insertArgs(entry)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(insertCycleLogSQL, args...); err != nil {
		return fmt.Errorf("failed to insert cycle log: %w", err)
	}
	return nil
}

// Insert appends a cycle log in its own transaction. Used on failure paths
// where no cycle transaction is open.
func (r *LogRepository) Insert(entry domain.CycleLog) error {
	args, err := insertArgs(entry)
	if err != nil {
		return err
	}
	if _, err := r.coreDB.Exec(insertCycleLogSQL, args...); err != nil {
		return fmt.Errorf("failed to insert cycle log: %w", err)
	}
	return nil
}

const insertCycleLogSQL = `
	INSERT INTO cycle_logs
	(id, status, snapshot, signal, plan, tx, reward, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func insertArgs(entry domain.CycleLog) ([]interface{}, error) {
	snapshot, err := marshalNullable(entry.Snapshot)
	if err != nil {
		return nil, err
	}
	signal, err := marshalNullable(entry.Signal)
	if err != nil {
		return nil, err
	}
	plan, err := marshalNullable(entry.Plan)
	if err != nil {
		return nil, err
	}
	tx, err := marshalNullable(entry.Transaction)
	if err != nil {
		return nil, err
	}
	reward, err := marshalNullable(entry.Reward)
	if err != nil {
		return nil, err
	}

	var errStr interface{}
	if entry.Error != "" {
		errStr = entry.Error
	}

	return []interface{}{
		entry.ID,
		string(entry.Status),
		snapshot, signal, plan, tx, reward,
		errStr,
		entry.StartedAt.UnixMilli(),
		entry.FinishedAt.UnixMilli(),
	}, nil
}

// List returns recent cycle logs, most recent first.
func (r *LogRepository) List(limit int) ([]domain.CycleLog, error) {
	rows, err := r.coreDB.Query(`
		SELECT `+cycleLogColumns+` FROM cycle_logs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle logs: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleLog
	for rows.Next() {
		entry, err := scanCycleLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cycle log rows iteration failed: %w", err)
	}
	return out, nil
}

// Latest returns the most recent cycle log, or nil when none exist.
func (r *LogRepository) Latest() (*domain.CycleLog, error) {
	logs, err := r.List(1)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}
	return &logs[0], nil
}

// Count returns the number of recorded cycle attempts.
func (r *LogRepository) Count() (int64, error) {
	var n int64
	if err := r.coreDB.QueryRow(`SELECT COUNT(*) FROM cycle_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cycle logs: %w", err)
	}
	return n, nil
}

func scanCycleLog(rows *sql.Rows) (domain.CycleLog, error) {
	var entry domain.CycleLog
	var snapshot, signal, plan, tx, reward, errStr sql.NullString
	var startedAt, finishedAt int64

	if err := rows.Scan(
		&entry.ID, &entry.Status,
		&snapshot, &signal, &plan, &tx, &reward, &errStr,
		&startedAt, &finishedAt,
	); err != nil {
		return entry, fmt.Errorf("failed to scan cycle log: %w", err)
	}

	if err := unmarshalNullable(snapshot, &entry.Snapshot); err != nil {
		return entry, err
	}
	if err := unmarshalNullable(signal, &entry.Signal); err != nil {
		return entry, err
	}
	if err := unmarshalNullable(plan, &entry.Plan); err != nil {
		return entry, err
	}
	if err := unmarshalNullable(tx, &entry.Transaction); err != nil {
		return entry, err
	}
	if err := unmarshalNullable(reward, &entry.Reward); err != nil {
		return entry, err
	}

	entry.Error = errStr.String
	entry.StartedAt = time.UnixMilli(startedAt).UTC()
	entry.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return entry, nil
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *domain.FinancialSnapshot:
		if t == nil {
			return nil, nil
		}
	case *domain.MarketSignal:
		if t == nil {
			return nil, nil
		}
	case *domain.ActionPlan:
		if t == nil {
			return nil, nil
		}
	case *domain.Transaction:
		if t == nil {
			return nil, nil
		}
	case *domain.RewardScore:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cycle log field: %w", err)
	}
	return string(data), nil
}

func unmarshalNullable[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return fmt.Errorf("failed to unmarshal cycle log field: %w", err)
	}
	*dst = &v
	return nil
}
