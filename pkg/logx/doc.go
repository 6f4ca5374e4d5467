// Package logx configures whatsched's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON
//   - an optional Telegram sink forwards WARN+ lines to the owner chat, rate limited
package logx
