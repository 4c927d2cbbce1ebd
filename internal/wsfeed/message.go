// Package wsfeed implements a best-effort external observer feed for
// Report-Stat traffic: a gorilla/websocket hub that broadcasts each
// completed interval sample for a job to whatever dashboards are watching
// it, independent of the real stat channel's own delivery to the
// coordinator (spec.md §4.5.3's real-time stat channel is internal wire
// protocol; this is a second, external-facing fan-out of the same data).
// Unlike the teacher's server/internal/websocket — a generic multi-topic
// pub/sub serving job/agent/notification GUI events — this feed only ever
// carries one kind of payload on one kind of subscription (a job's interval
// stream), so the hub and client key directly on jobID rather than a
// generic topic string, and the wire envelope is IntervalUpdate itself
// rather than a {type, topic, payload any} wrapper.
package wsfeed

// IntervalUpdate is the sole message shape this feed ever sends, mirroring
// stats.IntervalSample's fields without importing the stats package's
// internal Owner type directly into the wire JSON shape.
type IntervalUpdate struct {
	JobID       string  `json:"job_id"`
	DisplayName string  `json:"display_name"`
	ClientID    string  `json:"client_id"`
	ThreadID    int     `json:"thread_id"`
	Interval    int     `json:"interval"`
	Value       float64 `json:"value"`
	Count       int64   `json:"count"`
}
