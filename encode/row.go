// Package encode serializes rows. The length of a row's encoding is the size
// charged for it by the result cache.
package encode

import (
	"fmt"
	"math"

	"github.com/leftmike/rowcache/sql"
)

const (
	boolValueTag    = 1
	int64ValueTag   = 2
	float64ValueTag = 3
	stringValueTag  = 4
	bytesValueTag   = 5
	// Value tags must be less than 16.

	bigColNum = 0xF
)

func encodeColNumValueTag(buf []byte, colNum int, tag byte) []byte {
	if colNum < bigColNum {
		buf = append(buf, byte(colNum<<4)|tag)
	} else {
		buf = append(buf, byte(bigColNum<<4)|tag)
		buf = EncodeVarint(buf, uint64(colNum))
	}
	return buf
}

// EncodeRow appends the encoding of row to buf. NULL values take no space
// beyond the column count.
func EncodeRow(buf []byte, row sql.Row) []byte {
	buf = EncodeVarint(buf, uint64(len(row)))
	for num, val := range row {
		if val == nil {
			continue
		}
		switch val := val.(type) {
		case sql.BoolValue:
			buf = encodeColNumValueTag(buf, num, boolValueTag)
			if val {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case sql.StringValue:
			buf = encodeColNumValueTag(buf, num, stringValueTag)
			buf = EncodeVarint(buf, uint64(len(val)))
			buf = append(buf, val...)
		case sql.BytesValue:
			buf = encodeColNumValueTag(buf, num, bytesValueTag)
			buf = EncodeVarint(buf, uint64(len(val)))
			buf = append(buf, val...)
		case sql.Float64Value:
			buf = encodeColNumValueTag(buf, num, float64ValueTag)
			buf = EncodeUint64(buf, math.Float64bits(float64(val)))
		case sql.Int64Value:
			buf = encodeColNumValueTag(buf, num, int64ValueTag)
			buf = EncodeZigzag64(buf, int64(val))
		default:
			panic(fmt.Sprintf("unexpected type for sql.Value: %T: %v", val, val))
		}
	}
	return buf
}

// DecodeRow returns nil and false if buf is not a valid row encoding.
func DecodeRow(buf []byte) (sql.Row, bool) {
	var ok bool
	var u uint64

	buf, u, ok = DecodeVarint(buf)
	if !ok || u > uint64(len(buf))*16+16 {
		return nil, false
	}
	dest := make(sql.Row, u)

	for len(buf) > 0 {
		tag := buf[0] & 0x0F
		num := int(buf[0] >> 4)
		buf = buf[1:]
		if num == bigColNum {
			buf, u, ok = DecodeVarint(buf)
			if !ok {
				return nil, false
			}
			num = int(u)
		}

		var val sql.Value
		switch tag {
		case boolValueTag:
			if len(buf) < 1 {
				return nil, false
			}
			val = sql.BoolValue(buf[0] != 0)
			buf = buf[1:]
		case stringValueTag, bytesValueTag:
			buf, u, ok = DecodeVarint(buf)
			if !ok || uint64(len(buf)) < u {
				return nil, false
			}
			if tag == stringValueTag {
				val = sql.StringValue(buf[:u])
			} else {
				val = sql.BytesValue(append([]byte(nil), buf[:u]...))
			}
			buf = buf[u:]
		case float64ValueTag:
			buf, u, ok = DecodeUint64(buf)
			if !ok {
				return nil, false
			}
			val = sql.Float64Value(math.Float64frombits(u))
		case int64ValueTag:
			var n int64
			buf, n, ok = DecodeZigzag64(buf)
			if !ok {
				return nil, false
			}
			val = sql.Int64Value(n)
		default:
			return nil, false
		}

		if num >= len(dest) {
			return nil, false
		}
		dest[num] = val
	}

	return dest, true
}
