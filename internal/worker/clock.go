package worker

import "time"

// sessionSkew is the minimal slice of *session.Session a Clock needs;
// defined locally to avoid an import cycle (session imports nothing from
// worker, but keeping the dependency one-directional here is cheap and
// keeps this adapter trivially testable).
type sessionSkew interface {
	CorrectInbound(peerMillis int64) int64
	CorrectOutbound(localMillis int64) int64
}

// SessionClock adapts a *session.Session (or anything exposing the same
// skew-correction methods) to the Clock interface Runtime needs.
type SessionClock struct {
	Session sessionSkew
}

// NewSessionClock builds a Clock backed by s's clock-skew correction.
func NewSessionClock(s sessionSkew) SessionClock {
	return SessionClock{Session: s}
}

func (c SessionClock) Now() time.Time { return time.Now() }

func (c SessionClock) CorrectInbound(peerMillis int64) int64 {
	return c.Session.CorrectInbound(peerMillis)
}

func (c SessionClock) CorrectOutbound(localMillis int64) int64 {
	return c.Session.CorrectOutbound(localMillis)
}
