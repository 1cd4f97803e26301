package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	NullString  = "NULL"
	TrueString  = "true"
	FalseString = "false"
)

type Value interface {
	fmt.Stringer

	// return -1 if v1 < v2
	// return 0 if v1 == v2
	// return 1 if v1 > v2
	Compare(v2 Value) (int, error)
}

type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return TrueString
	}
	return FalseString
}

func (b1 BoolValue) Compare(v2 Value) (int, error) {
	if b2, ok := v2.(BoolValue); ok {
		if b1 == b2 {
			return 0, nil
		} else if b1 {
			return 1, nil
		}
		return -1, nil
	}
	return 0, fmt.Errorf("sql: want boolean got %v", v2)
}

type Int64Value int64

func (i Int64Value) String() string {
	return strconv.FormatInt(int64(i), 10)
}

func (i1 Int64Value) Compare(v2 Value) (int, error) {
	switch v2 := v2.(type) {
	case Int64Value:
		if i1 < v2 {
			return -1, nil
		} else if i1 > v2 {
			return 1, nil
		}
		return 0, nil
	case Float64Value:
		return Float64Value(i1).Compare(v2)
	}
	return 0, fmt.Errorf("sql: want number got %v", v2)
}

type Float64Value float64

func (d Float64Value) String() string {
	return strconv.FormatFloat(float64(d), 'g', -1, 64)
}

func (d1 Float64Value) Compare(v2 Value) (int, error) {
	var d2 Float64Value
	switch v2 := v2.(type) {
	case Int64Value:
		d2 = Float64Value(v2)
	case Float64Value:
		d2 = v2
	default:
		return 0, fmt.Errorf("sql: want number got %v", v2)
	}

	if d1 < d2 {
		return -1, nil
	} else if d1 > d2 {
		return 1, nil
	}
	return 0, nil
}

type StringValue string

func (s StringValue) String() string {
	return fmt.Sprintf("'%s'", string(s))
}

func (s1 StringValue) Compare(v2 Value) (int, error) {
	if s2, ok := v2.(StringValue); ok {
		return strings.Compare(string(s1), string(s2)), nil
	}
	return 0, fmt.Errorf("sql: want string got %v", v2)
}

type BytesValue []byte

var (
	hexDigits = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd',
		'e', 'f'}
)

func (b BytesValue) HexBytes() []byte {
	buf := make([]byte, 0, len(b)*2+2)
	buf = append(buf, '\\', 'x')
	for _, v := range b {
		buf = append(buf, hexDigits[v>>4], hexDigits[v&0xF])
	}
	return buf
}

func (b BytesValue) String() string {
	return fmt.Sprintf("'%s'", b.HexBytes())
}

func (b1 BytesValue) Compare(v2 Value) (int, error) {
	if b2, ok := v2.(BytesValue); ok {
		return bytes.Compare([]byte(b1), []byte(b2)), nil
	}
	return 0, fmt.Errorf("sql: want bytes got %v", v2)
}

func Format(v Value) string {
	if v == nil {
		return NullString
	}

	return v.String()
}

// Text is the value as a client sees it: strings are not quoted and NULL is nil.
func Text(v Value) []byte {
	switch v := v.(type) {
	case nil:
		return nil
	case StringValue:
		return []byte(string(v))
	case BytesValue:
		return v.HexBytes()
	default:
		return []byte(v.String())
	}
}
