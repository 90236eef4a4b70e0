// Package logx configures wqbot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output is human readable (short timestamp + short caller)
//   - File output is JSON lines
//   - An optional Telegram sink forwards warnings to an admin chat (min-level + rate limit)
package logx
