package transport

import "time"

// pastDeadline returns a deadline already in the past, used to turn a
// blocking net.Conn read into an immediate would-block check.
func pastDeadline() time.Time {
	return time.Now().Add(-time.Second)
}

// longDeadline bounds a payload read that must follow an already-received
// header; a connected peer that sent a header but stalls on the body past
// this is wire-broken, not merely would-blocking.
func longDeadline() time.Time {
	return time.Now().Add(10 * time.Second)
}
