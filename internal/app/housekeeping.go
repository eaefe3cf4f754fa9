package app

import (
	"context"

	"tvbot/internal/admin"
	logx "tvbot/pkg/logx"
)

const (
	jobCleanup = "cleanup"
	jobBackup  = "backup"
)

// registerJobs upserts the housekeeping jobs for rt. An empty backup spec
// removes the backup job.
func (a *App) registerJobs(rt Runtime) error {
	log := a.log.With(logx.String("comp", "housekeeping"))
	if err := a.sched.Add(jobCleanup, rt.CleanupSpec, cleanupTimeout, func(ctx context.Context) error {
		_, err := a.admin.Cleanup(ctx, admin.System)
		return err
	}); err != nil {
		return err
	}

	if rt.BackupSpec == "" {
		a.sched.Remove(jobBackup)
		return nil
	}
	return a.sched.Add(jobBackup, rt.BackupSpec, backupTimeout, func(ctx context.Context) error {
		path, err := a.admin.Backup(ctx, admin.System)
		if err != nil {
			return err
		}
		log.Info("backup written", logx.String("path", path))
		return nil
	})
}
