package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// RegisterStat announces a tracker identity once per (job, client, thread,
// displayName) on the real-time stat channel, before any Report-Stat for it
// is sent (spec.md §4.5.3).
type RegisterStat struct {
	JobID       string
	ClientID    string
	ThreadID    int
	DisplayName string
	Kind        int // mirrors stats.Kind without importing the stats package's internals
}

func (m RegisterStat) Tag() byte { return wire.TagRegisterStat }

func (m RegisterStat) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: RegisterStat.JobID must not be empty")
	}
	if m.DisplayName == "" {
		return fmt.Errorf("protocol: RegisterStat.DisplayName must not be empty")
	}
	return nil
}

func (m RegisterStat) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewOctets([]byte(m.ClientID)),
		wire.NewInteger(int64(m.ThreadID)),
		wire.NewOctets([]byte(m.DisplayName)),
		wire.NewEnum(int64(m.Kind)),
	)
}

func decodeRegisterStat(el wire.Element) (RegisterStat, error) {
	if len(el.Children) != 5 {
		return RegisterStat{}, fmt.Errorf("protocol: RegisterStat expects 5 fields, got %d", len(el.Children))
	}
	threadID, err := el.Children[2].Int()
	if err != nil {
		return RegisterStat{}, fmt.Errorf("protocol: RegisterStat.ThreadID: %w", err)
	}
	kind, err := el.Children[4].Int()
	if err != nil {
		return RegisterStat{}, fmt.Errorf("protocol: RegisterStat.Kind: %w", err)
	}
	return RegisterStat{
		JobID:       el.Children[0].String(),
		ClientID:    el.Children[1].String(),
		ThreadID:    int(threadID),
		DisplayName: el.Children[3].String(),
		Kind:        int(kind),
	}, nil
}

// StatValue is one interval's value for one registered tracker, as carried
// in a Report-Stat batch.
type StatValue struct {
	DisplayName string
	Interval    int
	Value       float64
	Count       int64
}

// ReportStat ships one or more per-interval payloads for a job on the
// (lossy, best-effort) real-time stat channel, independent from the control
// channel's ordering guarantees (spec.md §4.5.3, §5 "not ordered with
// respect to control messages").
type ReportStat struct {
	JobID    string
	ClientID string
	Values   []StatValue
}

func (m ReportStat) Tag() byte { return wire.TagReportStat }

func (m ReportStat) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: ReportStat.JobID must not be empty")
	}
	return nil
}

func (m ReportStat) Encode() wire.Element {
	values := make([]wire.Element, len(m.Values))
	for i, v := range m.Values {
		values[i] = wire.NewComposite(wire.UniversalComposite(wire.TypeSequence),
			wire.NewOctets([]byte(v.DisplayName)),
			wire.NewInteger(int64(v.Interval)),
			wire.NewFloat(v.Value),
			wire.NewInteger(v.Count),
		)
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewOctets([]byte(m.ClientID)),
		wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), values...),
	)
}

func decodeReportStat(el wire.Element) (ReportStat, error) {
	if len(el.Children) != 3 {
		return ReportStat{}, fmt.Errorf("protocol: ReportStat expects 3 fields, got %d", len(el.Children))
	}
	var values []StatValue
	for _, ve := range el.Children[2].Children {
		if len(ve.Children) != 4 {
			return ReportStat{}, fmt.Errorf("protocol: ReportStat value entry must have 4 fields")
		}
		interval, err := ve.Children[1].Int()
		if err != nil {
			return ReportStat{}, fmt.Errorf("protocol: ReportStat value.Interval: %w", err)
		}
		val, err := ve.Children[2].Float()
		if err != nil {
			return ReportStat{}, fmt.Errorf("protocol: ReportStat value.Value: %w", err)
		}
		count, err := ve.Children[3].Int()
		if err != nil {
			return ReportStat{}, fmt.Errorf("protocol: ReportStat value.Count: %w", err)
		}
		values = append(values, StatValue{
			DisplayName: ve.Children[0].String(),
			Interval:    int(interval),
			Value:       val,
			Count:       count,
		})
	}
	return ReportStat{
		JobID:    el.Children[0].String(),
		ClientID: el.Children[1].String(),
		Values:   values,
	}, nil
}
