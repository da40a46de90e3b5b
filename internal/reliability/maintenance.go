package reliability

import (
	"github.com/rs/zerolog"

	"github.com/steward-fin/steward/internal/database"
)

// WALMaintenanceJob periodically checkpoints every database so WAL files
// cannot grow without bound on a long-running instance.
type WALMaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALMaintenanceJob creates the checkpoint job.
func NewWALMaintenanceJob(databases []*database.DB, log zerolog.Logger) *WALMaintenanceJob {
	return &WALMaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "wal_maintenance").Logger(),
	}
}

// Run checkpoints all databases. Errors on one database do not stop the
// sweep; the first error is returned after all databases were attempted.
func (j *WALMaintenanceJob) Run() error {
	var firstErr error
	for _, db := range j.databases {
		if err := db.WALCheckpoint("PASSIVE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Name returns the job name.
func (j *WALMaintenanceJob) Name() string { return "wal_maintenance" }
