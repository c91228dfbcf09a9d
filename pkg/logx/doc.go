// Package logx configures wasender's structured logging.
//
// A thin wrapper (logx.Logger) over zerolog keeps:
//   - console output short and readable (compact timestamp, file:line caller)
//   - file output as JSON lines
//   - an optional Telegram sink for warnings (min-level + rate limited)
package logx
