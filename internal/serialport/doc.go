// Package serialport owns the cable to the scoring box.
//
// Ownership boundary:
//   - opening the device and the fixed-delay reconnect loop
//   - reading raw chunks and writing replies
//
// Framing lives in protocol/frame. The supervisor only moves bytes.
package serialport
