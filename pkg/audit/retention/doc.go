// Package retention prunes old audit events and runs other periodic
// maintenance jobs on cron schedules (github.com/robfig/cron/v3).
//
//	pruner := retention.NewPruner(storage, 30, nil)
//	sched := retention.NewScheduler()
//	sched.AddJob("audit-prune", "0 3 * * *", pruner.Prune)
//	sched.AddJob("store-cleanup", "@every 5m", cleanup)
//	sched.Start(ctx)
//	defer sched.Stop()
package retention
