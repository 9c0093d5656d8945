package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Audit log appends (operator actions)
//   - The named-message registry used by the messages plugin
//   - Small notifier state (last-notified anchor) to survive restarts
