// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single WebSocket connection of a client session
//   - Drives DISCONNECTED -> CONNECTING -> CONNECTED / FAILED transitions
//   - Retries unexpected closes with capped, jittered exponential backoff
//   - Hands inbound frames to one handler, in the order they were read
//   - Notifies state listeners on every transition
package connection
