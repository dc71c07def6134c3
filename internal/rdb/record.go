package rdb

import (
	"fmt"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// encodePayload appends v's encoded payload (no type byte) to buf, per the
// per-type layouts in spec.md §6 ("RDB file format"). The type byte is
// written separately by the record framer, which puts it before the key
// ("1 type byte + key + value").
func encodePayload(buf []byte, v value.Value) []byte {
	switch v.Type {
	case value.TypeString:
		buf = appendString(buf, v.Str)
	case value.TypeList, value.TypeSet:
		buf = appendLen(buf, uint32(len(v.Items)))
		for _, item := range v.Items {
			buf = appendString(buf, item)
		}
	case value.TypeZSet:
		// v.Items holds alternating (member, score) pairs; the wire
		// format is N pairs of (score, member) (spec.md §6).
		n := len(v.Items) / 2
		buf = appendLen(buf, uint32(n))
		for i := 0; i < n; i++ {
			member, score := v.Items[2*i], v.Items[2*i+1]
			buf = appendString(buf, score)
			buf = appendString(buf, member)
		}
	case value.TypeHash:
		n := len(v.Items) / 2
		buf = appendLen(buf, uint32(n))
		for i := 0; i < n; i++ {
			field, val := v.Items[2*i], v.Items[2*i+1]
			buf = appendString(buf, field)
			buf = appendString(buf, val)
		}
	}
	return buf
}

// decodePayload decodes typ's payload starting at buf[0] (no type byte),
// returning the value and the number of payload bytes consumed.
func decodePayload(typ value.Type, buf []byte) (value.Value, int, error) {
	off := 0

	switch typ {
	case value.TypeString:
		s, n, err := readString(buf[off:])
		if err != nil {
			return value.Value{}, 0, err
		}
		off += n
		return value.NewString(s), off, nil

	case value.TypeList, value.TypeSet:
		count, n, err := readLen(buf[off:])
		if err != nil {
			return value.Value{}, 0, err
		}
		off += n
		items := make([]string, count)
		for i := range items {
			s, n, err := readString(buf[off:])
			if err != nil {
				return value.Value{}, 0, err
			}
			off += n
			items[i] = s
		}
		if typ == value.TypeList {
			return value.NewList(items...), off, nil
		}
		return value.NewSet(items...), off, nil

	case value.TypeZSet:
		count, n, err := readLen(buf[off:])
		if err != nil {
			return value.Value{}, 0, err
		}
		off += n
		pairs := make([]string, 0, count*2)
		for i := uint32(0); i < count; i++ {
			score, n, err := readString(buf[off:])
			if err != nil {
				return value.Value{}, 0, err
			}
			off += n
			member, n, err := readString(buf[off:])
			if err != nil {
				return value.Value{}, 0, err
			}
			off += n
			pairs = append(pairs, member, score)
		}
		return value.NewZSet(pairs...), off, nil

	case value.TypeHash:
		count, n, err := readLen(buf[off:])
		if err != nil {
			return value.Value{}, 0, err
		}
		off += n
		pairs := make([]string, 0, count*2)
		for i := uint32(0); i < count; i++ {
			field, n, err := readString(buf[off:])
			if err != nil {
				return value.Value{}, 0, err
			}
			off += n
			val, n, err := readString(buf[off:])
			if err != nil {
				return value.Value{}, 0, err
			}
			off += n
			pairs = append(pairs, field, val)
		}
		return value.NewHash(pairs...), off, nil

	default:
		return value.Value{}, 0, fmt.Errorf("rdb: unknown type tag 0x%02x", typ)
	}
}
