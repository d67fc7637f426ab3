// Package connection implements the reconnecting pipeline client.
//
// The Manager:
//   - Owns exactly one WebSocket handle at a time
//   - Fans inbound text/binary frames out to observers in attachment order
//   - Reconnects after unexpected closure at a fixed interval, up to MaxRetries times
//   - Never reconnects after Disconnect or Shutdown
package connection
