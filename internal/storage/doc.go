// Package storage persists the load journal: one record per effect init,
// reload, warm-up and refresh, with how long it took. It backs the control
// server's /loads endpoint and survives restarts so load-time regressions
// can be compared across runs.
package storage
