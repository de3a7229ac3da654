// Package protocol owns the multicast broadcast wire contract.
//
// Ownership boundary:
//   - full state message encode/decode
//   - partial segment messages (score, clock, cards, priority)
//   - outgoing message sequence numbering
//
// Serial framing from the scoring box lives in protocol/frame.
//
// Full message layout, fixed width ASCII:
//
//	PPS<hA><hB>SA:SBTMM:SS:HHC<yrs>:<yrs>P<a>:<b>
//	01Sh-02:01T02:25:00Cy--:-r-P-:-
package protocol
