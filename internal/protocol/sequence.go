package protocol

import "sync/atomic"

// MaxMsgIndex is the wrap bound for outgoing message sequence numbers.
const MaxMsgIndex = 9999

// Sequence hands out message indexes 1..MaxMsgIndex, wrapping back to 1.
type Sequence struct {
	n atomic.Uint32
}

func (s *Sequence) Next() int {
	for {
		cur := s.n.Load()
		next := cur + 1
		if next > MaxMsgIndex {
			next = 1
		}
		if s.n.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

// Last returns the most recently issued index, 0 before the first call.
func (s *Sequence) Last() int {
	return int(s.n.Load())
}
