package scheduler

import (
	"context"
	"errors"

	"github.com/steward-fin/steward/internal/domain"
)

// CycleRunner triggers one decision cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleLog, error)
}

// CycleJob fires the decision cycle on its cron schedule. A trigger that
// lands while a cycle is already running is dropped silently; the next tick
// will try again.
type CycleJob struct {
	runner CycleRunner
}

// NewCycleJob creates the scheduled cycle trigger.
func NewCycleJob(runner CycleRunner) *CycleJob {
	return &CycleJob{runner: runner}
}

// Run executes one cycle.
func (j *CycleJob) Run() error {
	_, err := j.runner.RunCycle(context.Background())
	if errors.Is(err, domain.ErrConcurrentCycleInProgress) {
		return nil
	}
	return err
}

// Name returns the job name.
func (j *CycleJob) Name() string { return "decision_cycle" }

// Backuper uploads database snapshots to remote storage.
type Backuper interface {
	BackupAll(ctx context.Context) error
}

// BackupJob uploads database backups on its cron schedule.
type BackupJob struct {
	backuper Backuper
}

// NewBackupJob creates the scheduled backup trigger.
func NewBackupJob(backuper Backuper) *BackupJob {
	return &BackupJob{backuper: backuper}
}

// Run performs one backup sweep.
func (j *BackupJob) Run() error {
	return j.backuper.BackupAll(context.Background())
}

// Name returns the job name.
func (j *BackupJob) Name() string { return "database_backup" }
