// Package schedule runs recurring pipeline tasks.
//
// This package includes:
//   - Schedule interface for defining task schedules
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Parse() for configured schedule strings: "@every 15m", "daily 03:30",
//     "weekly sun 03:30" or any standard cron expression
//   - Scheduler, which runs named tasks when their schedule comes due
package schedule
