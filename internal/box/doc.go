// Package box owns bout state.
//
// Ownership boundary:
//   - State value type and its field invariants
//   - passivity countdown
//   - per-piste registry of remote boxes
//
// Box and Registry each hold a single lock. Callers never reach into State
// through a shared pointer; they take snapshots.
package box
