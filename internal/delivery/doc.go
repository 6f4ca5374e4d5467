// Package delivery owns the automation session: one driver, one connection,
// one send at a time.
//
// Drivers:
//   - "bridge": JSON over websocket to a WhatsApp Web bridge (QR login in the bridge)
//   - "twilio": Twilio WhatsApp messages API
//   - "telegram": the bot itself; addresses are chat ids
//   - "log": dry run, logs every send
package delivery
