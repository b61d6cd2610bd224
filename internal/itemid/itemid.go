// Package itemid implements the hierarchical identifier model for test items.
//
// An ItemID is an opaque string that embeds the full ancestor chain of the
// item it names: the labels of every ancestor from the root down to the item
// itself, joined with a reserved NUL separator. Because segments may contain
// arbitrary text (including the separator), segments are escaped on encode
// and validated on decode. Every prefix of a valid ItemID is itself a valid
// ItemID naming an ancestor, which lets callers walk toward a target id
// without consulting the collection until each prefix needs to be checked.
package itemid

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ItemID is an encoded hierarchical item identifier.
type ItemID string

const (
	// Separator joins encoded segments. It is reserved: a literal NUL inside
	// a segment is escaped as `\0`.
	Separator = "\x00"

	escapeChar = '\\'
)

// ErrMalformed is returned when an identifier's escaping is inconsistent,
// e.g. an unterminated escape at the end of the string or an unknown escape
// sequence. Malformed ids are rejected at the boundary and never reach the
// collection.
var ErrMalformed = errors.New("malformed item id")

// EscapeSegment encodes a single raw segment so it can be embedded in an
// ItemID. Backslashes become `\\` and NUL bytes become `\0`.
func EscapeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		switch r {
		case escapeChar:
			b.WriteString(`\\`)
		case '\x00':
			b.WriteString(`\0`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Join appends one raw (unescaped) segment to parent. An empty parent makes
// the segment a root id.
func Join(parent ItemID, segment string) ItemID {
	if parent == "" {
		return ItemID(EscapeSegment(segment))
	}
	return parent + ItemID(Separator) + ItemID(EscapeSegment(segment))
}

// Parse validates the escaping of s and returns it as an ItemID. It fails
// closed: any inconsistency yields an error wrapping ErrMalformed.
func Parse(s string) (ItemID, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrMalformed)
	}
	if _, err := splitEncoded(s); err != nil {
		return "", err
	}
	return ItemID(s), nil
}

// Segments decodes id into its raw segment list, root first.
func (id ItemID) Segments() ([]string, error) {
	encoded, err := splitEncoded(string(id))
	if err != nil {
		return nil, err
	}
	segments := make([]string, len(encoded))
	for i, e := range encoded {
		segments[i] = unescapeValidated(e)
	}
	return segments, nil
}

// Depth reports the number of segments in id; roots have depth 1. Malformed
// ids report 0.
func (id ItemID) Depth() int {
	encoded, err := splitEncoded(string(id))
	if err != nil {
		return 0
	}
	return len(encoded)
}

// Parent returns the id of the immediate ancestor, or "" for a root or a
// malformed id.
func (id ItemID) Parent() ItemID {
	encoded, err := splitEncoded(string(id))
	if err != nil || len(encoded) < 2 {
		return ""
	}
	return ItemID(strings.Join(encoded[:len(encoded)-1], Separator))
}

// IDsFromRoot yields the ancestor ids of id in order from the root prefix
// down to id itself, inclusive. The sequence is lazy, finite and restartable.
// A malformed id yields nothing.
func IDsFromRoot(id ItemID) iter.Seq[ItemID] {
	return func(yield func(ItemID) bool) {
		encoded, err := splitEncoded(string(id))
		if err != nil {
			return
		}
		var prefix string
		for i, seg := range encoded {
			if i == 0 {
				prefix = seg
			} else {
				prefix = prefix + Separator + seg
			}
			if !yield(ItemID(prefix)) {
				return
			}
		}
	}
}

// IsChild reports whether candidate's immediate ancestor id equals parent.
func IsChild(parent, candidate ItemID) bool {
	if parent == "" || candidate == "" {
		return false
	}
	return candidate.Parent() == parent
}

// splitEncoded splits s on unescaped separators, keeping segments in their
// encoded form, and validates the escaping as it goes.
func splitEncoded(s string) ([]string, error) {
	var (
		segments []string
		start    int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case escapeChar:
			if i+1 >= len(s) {
				return nil, fmt.Errorf("%w: unterminated escape at offset %d", ErrMalformed, i)
			}
			switch s[i+1] {
			case escapeChar, '0':
				i++ // consume the escaped character
			default:
				return nil, fmt.Errorf("%w: unknown escape %q at offset %d", ErrMalformed, s[i+1], i)
			}
		case 0:
			segments = append(segments, s[start:i])
			start = i + 1
		}
	}
	segments = append(segments, s[start:])
	return segments, nil
}

// unescapeValidated decodes one segment that splitEncoded already validated.
func unescapeValidated(s string) string {
	if !strings.ContainsRune(s, escapeChar) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == escapeChar {
			i++
			if s[i] == '0' {
				b.WriteByte(0)
			} else {
				b.WriteByte(escapeChar)
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
