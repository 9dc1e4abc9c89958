/*
Package session implements chat session management and persistence orchestration.

It serializes events of the same chat with ref-counted in-process locks, optionally
backed by a distributed lock for multi-replica deployments, and sweeps idle sessions
on a cron schedule.
*/
package session
