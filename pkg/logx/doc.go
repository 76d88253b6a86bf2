// Package logx configures routined's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - One log channel per routine (<dir>/<routine>.log, rotated at midnight)
//   - Optional Telegram sink (min-level + rate limiting)
package logx
