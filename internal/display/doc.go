// Package display holds the render and sound sinks the repeater pushes to.
//
// Ownership boundary:
//   - field group names shared with the processor
//   - pterm console renderer
//   - websocket hub for tablets and browsers
//   - sound sinks
//
// Sinks decide how to render. They never decide when.
package display
