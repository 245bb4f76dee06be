// Package retention prunes aged metering data on a schedule.
//
// Two kinds of data accumulate over time: usage states for users who
// stopped sending requests, and audit journal events past the billing
// retention period. The Pruner deletes both; the Scheduler runs it on a
// cron expression (for example "0 3 * * *" for daily at 3 AM).
//
// Pruning a usage state is safe at any time: the state is recreated lazily
// and counters restart from zero, which only ever errs in the user's favor.
package retention
