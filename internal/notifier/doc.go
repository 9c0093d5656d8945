package notifier

// Package notifier delivers the daily digest of newly added formulas.
//
// A single Service loop computes the next fire instant from a cron
// schedule, sleeps until it (or fires immediately inside the grace
// window after a restart), runs one delivery pass against the catalog,
// and retries a failed pass after a fixed delay. The renderer paces the
// sends and isolates per-message failures.
