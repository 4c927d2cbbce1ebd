package stats

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// Encode serializes t as a universal sequence element — trackers are not a
// top-level message kind, so they use the codec's generic sequence tag
// rather than one of the application tags in the protocol catalogue
// (spec.md §4.3 encode()/decode()).
func (t *Tracker) Encode() wire.Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	children := []wire.Element{
		wire.NewEnum(int64(t.Kind)),
		wire.NewOctets([]byte(t.DisplayName)),
		wire.NewOctets([]byte(t.Owner.ClientID)),
		wire.NewInteger(int64(t.Owner.ThreadID)),
		wire.NewInteger(int64(t.IntervalSec)),
		encodeFloatSeq(t.values),
		encodeIntSeq(t.counts),
	}
	if t.Kind == KindStacked {
		catChildren := make([]wire.Element, 0, len(t.Categories))
		for _, cat := range t.Categories {
			catChildren = append(catChildren, wire.NewComposite(wire.UniversalComposite(wire.TypeSequence),
				wire.NewOctets([]byte(cat)),
				encodeFloatSeq(t.categoryValues[cat]),
			))
		}
		children = append(children, wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), catChildren...))
	}
	return wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), children...)
}

// Decode rebuilds a Tracker from an element produced by Encode.
func Decode(el wire.Element) (*Tracker, error) {
	if len(el.Children) < 7 {
		return nil, fmt.Errorf("stats: decode: expected at least 7 fields, got %d", len(el.Children))
	}
	kindN, err := el.Children[0].Int()
	if err != nil {
		return nil, fmt.Errorf("stats: decode: kind: %w", err)
	}
	threadID, err := el.Children[3].Int()
	if err != nil {
		return nil, fmt.Errorf("stats: decode: threadID: %w", err)
	}
	intervalSec, err := el.Children[4].Int()
	if err != nil {
		return nil, fmt.Errorf("stats: decode: intervalSec: %w", err)
	}
	values, err := decodeFloatSeq(el.Children[5])
	if err != nil {
		return nil, fmt.Errorf("stats: decode: values: %w", err)
	}
	counts, err := decodeIntSeq(el.Children[6])
	if err != nil {
		return nil, fmt.Errorf("stats: decode: counts: %w", err)
	}

	t := &Tracker{
		Kind:        Kind(kindN),
		DisplayName: el.Children[1].String(),
		Owner:       Owner{ClientID: el.Children[2].String(), ThreadID: int(threadID)},
		IntervalSec: int(intervalSec),
		values:      values,
		counts:      counts,
	}

	if t.Kind == KindStacked && len(el.Children) >= 8 {
		t.categoryValues = make(map[string][]float64)
		for _, catEl := range el.Children[7].Children {
			if len(catEl.Children) != 2 {
				return nil, fmt.Errorf("stats: decode: malformed category entry")
			}
			name := catEl.Children[0].String()
			vals, err := decodeFloatSeq(catEl.Children[1])
			if err != nil {
				return nil, fmt.Errorf("stats: decode: category %q values: %w", name, err)
			}
			t.Categories = append(t.Categories, name)
			t.categoryValues[name] = vals
		}
	}

	return t, nil
}

func encodeFloatSeq(vs []float64) wire.Element {
	children := make([]wire.Element, len(vs))
	for i, v := range vs {
		children[i] = wire.NewFloat(v)
	}
	return wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), children...)
}

func decodeFloatSeq(el wire.Element) ([]float64, error) {
	out := make([]float64, len(el.Children))
	for i, c := range el.Children {
		v, err := c.Float()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeIntSeq(vs []int64) wire.Element {
	children := make([]wire.Element, len(vs))
	for i, v := range vs {
		children[i] = wire.NewInteger(v)
	}
	return wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), children...)
}

func decodeIntSeq(el wire.Element) ([]int64, error) {
	out := make([]int64, len(el.Children))
	for i, c := range el.Children {
		v, err := c.Int()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
