// Package value defines the opaque, serializable value container that the
// dict, rdb, and aof packages exchange. Auxiliary containers (lists, sets,
// sorted sets, hashes) are out of scope per spec.md §1 non-goals; this
// package only carries them as tagged byte-ish payloads so the core can
// serialize/deserialize them without knowing their internal structure.
package value

// Type tags, matching the RDB type-byte encoding in spec.md §6.
type Type byte

const (
	TypeString Type = 0x00
	TypeList   Type = 0x01
	TypeSet    Type = 0x02
	TypeZSet   Type = 0x03
	TypeHash   Type = 0x04
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	case TypeHash:
		return "hash"
	default:
		return "unknown"
	}
}

// Value is the opaque value a Dict entry holds. Strings carry their data in
// Str; the container types carry their members in Items (list order, set
// members, or flattened field/value and member/score pairs — callers
// interpret pair layout according to Type).
type Value struct {
	Type  Type
	Str   string
	Items []string
}

func NewString(s string) Value { return Value{Type: TypeString, Str: s} }

func NewList(items ...string) Value { return Value{Type: TypeList, Items: items} }

func NewSet(members ...string) Value { return Value{Type: TypeSet, Items: members} }

// NewZSet takes alternating member, score-as-string pairs, matching the RDB
// sorted-set encoding (score-as-string then member) after reordering done
// by the caller at the encode boundary.
func NewZSet(memberScorePairs ...string) Value { return Value{Type: TypeZSet, Items: memberScorePairs} }

// NewHash takes alternating field, value pairs.
func NewHash(fieldValuePairs ...string) Value { return Value{Type: TypeHash, Items: fieldValuePairs} }

// Equal reports deep equality, used by round-trip tests.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Str != o.Str || len(v.Items) != len(o.Items) {
		return false
	}
	for i := range v.Items {
		if v.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}
