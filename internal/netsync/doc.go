// Package netsync owns the multicast link between repeaters.
//
// Ownership boundary:
//   - group join, rejoin and the connection state machine
//   - heartbeat transmit of the local box state
//   - receive, decode and self-filtering of remote states
//
// Sync never touches the registry. Decoded states are delivered on Events and
// the consumer decides what to do with them.
package netsync
