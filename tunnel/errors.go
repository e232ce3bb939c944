package tunnel

import "errors"

var (
	ErrClosed      = errors.New("tunnel: device closed")
	ErrQueueFull   = errors.New("tunnel: output queue full")
	ErrMACInvalid  = errors.New("tunnel: MAC verification failed")
	ErrReplay      = errors.New("tunnel: sequence number rejected by replay window")
	ErrFrameTooBig = errors.New("tunnel: frame exceeds current path MTU")
)
