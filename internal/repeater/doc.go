// Package repeater owns the runtime that ties a scoring box to the network.
//
// Ownership boundary:
//   - command and mode state machine over the local box (Processor)
//   - the single dispatcher loop that serializes serial, network and control
//     input (Service)
//   - the HTTP status and control surface (Server)
//
// Only the dispatcher calls into Processor. Everything else talks to the
// dispatcher through its inbox and reads snapshots.
package repeater
