package diff

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"testctl/internal/itemid"
)

// Encode serializes a diff batch for the transport boundary. Transports move
// diffs as opaque byte batches; only per-producer in-order delivery is
// assumed, so batches carry their producer id with them.
func Encode(diffs []Diff) ([]byte, error) {
	data, err := msgpack.Marshal(diffs)
	if err != nil {
		return nil, fmt.Errorf("encoding diff batch: %w", err)
	}
	return data, nil
}

// Decode deserializes a diff batch and validates every id it references
// before the batch can reach a collection. Malformed ids fail the whole
// batch at this boundary.
func Decode(data []byte) ([]Diff, error) {
	var diffs []Diff
	if err := msgpack.Unmarshal(data, &diffs); err != nil {
		return nil, fmt.Errorf("decoding diff batch: %w", err)
	}
	for _, d := range diffs {
		for _, op := range d.Ops {
			if err := validateOpIDs(op); err != nil {
				return nil, err
			}
		}
	}
	return diffs, nil
}

func validateOpIDs(op Op) error {
	if _, err := itemid.Parse(string(op.ID)); err != nil {
		return err
	}
	if op.Kind == OpAdd && op.Item != nil && op.Item.ParentID != "" {
		if _, err := itemid.Parse(string(op.Item.ParentID)); err != nil {
			return err
		}
	}
	return nil
}
