package protocol

import "errors"

var (
	ErrLength  = errors.New("protocol: invalid message length")
	ErrMarker  = errors.New("protocol: marker mismatch")
	ErrPiste   = errors.New("protocol: invalid piste field")
	ErrSelf    = errors.New("protocol: message from local piste")
	ErrSegment = errors.New("protocol: unknown segment")
)
