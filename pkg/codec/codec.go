// Package codec implements a deterministic, type-tagged binary
// canonicalization: every value signed or sent over the peer wire is first
// reduced to this byte grammar so that two honest nodes producing "the
// same" structured value produce byte-identical encodings, and therefore
// identical signatures. Each value is domain-separated by a type-tag byte
// and big-endian length prefixes, in a fixed natural-ordering-by-key
// layout for maps.
package codec

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"
)

// Type markers, one byte, prefixing every encoded value.
const (
	TypeNull      byte = 0
	TypeString    byte = 1
	TypeNumber    byte = 2
	TypeBool      byte = 3
	TypeBigInt    byte = 4
	TypeBytes     byte = 5
	TypeTimestamp byte = 6
	TypeArray     byte = 7
	TypeMap       byte = 8
)

// Map is an ordered-by-encode string-keyed map value. Plain Go
// map[string]any is also accepted by Encode; Map exists so decoded output
// has a stable, inspectable shape (Decode always returns Map, never
// map[string]any).
type Map map[string]any

// Encode canonicalizes v into the byte grammar described above.
func Encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte{TypeNull}, nil
	case string:
		return encodeString(val), nil
	case bool:
		return encodeBool(val), nil
	case []byte:
		return encodeBytes(val), nil
	case *big.Int:
		return encodeBigInt(val), nil
	case time.Time:
		return encodeTimestamp(val), nil
	case int:
		return encodeNumber(strconv.FormatInt(int64(val), 10)), nil
	case int32:
		return encodeNumber(strconv.FormatInt(int64(val), 10)), nil
	case int64:
		return encodeNumber(strconv.FormatInt(val, 10)), nil
	case uint64:
		return encodeNumber(strconv.FormatUint(val, 10)), nil
	case float32:
		return encodeNumber(strconv.FormatFloat(float64(val), 'g', -1, 64)), nil
	case float64:
		return encodeNumber(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case []any:
		return encodeArray(val)
	case Map:
		return encodeMap(val)
	case map[string]any:
		return encodeMap(Map(val))
	default:
		return nil, fmt.Errorf("codec: unsupported type %T", v)
	}
}

func encodeString(s string) []byte {
	out := make([]byte, 0, 1+len(s))
	out = append(out, TypeString)
	return append(out, s...)
}

func encodeNumber(decimal string) []byte {
	out := make([]byte, 0, 1+len(decimal))
	out = append(out, TypeNumber)
	return append(out, decimal...)
}

func encodeBool(b bool) []byte {
	if b {
		return []byte{TypeBool, '1'}
	}
	return []byte{TypeBool, '0'}
}

func encodeBigInt(n *big.Int) []byte {
	s := n.String()
	out := make([]byte, 0, 1+len(s))
	out = append(out, TypeBigInt)
	return append(out, s...)
}

func encodeBytes(b []byte) []byte {
	out := make([]byte, 0, 1+len(b))
	out = append(out, TypeBytes)
	return append(out, b...)
}

func encodeTimestamp(t time.Time) []byte {
	s := strconv.FormatInt(t.UnixMilli(), 10)
	out := make([]byte, 0, 1+len(s))
	out = append(out, TypeTimestamp)
	return append(out, s...)
}

func encodeArray(items []any) ([]byte, error) {
	var payloads [][]byte
	for _, item := range items {
		p, err := Encode(item)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	out := []byte{TypeArray}
	out = appendU32(out, uint32(len(payloads)))
	for _, p := range payloads {
		out = appendU32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

func encodeMap(m Map) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return NaturalLess(keys[i], keys[j]) })

	out := []byte{TypeMap}
	out = appendU32(out, uint32(len(keys)))
	for _, k := range keys {
		keyPayload := []byte(k)
		valPayload, err := Encode(m[k])
		if err != nil {
			return nil, err
		}
		out = appendU32(out, uint32(len(keyPayload)))
		out = append(out, keyPayload...)
		out = appendU32(out, uint32(len(valPayload)))
		out = append(out, valPayload...)
	}
	return out, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// Decode is the inverse of Encode. Numbers decode to int64 when the decimal
// text parses as an integer, else float64. Arrays decode to []any, maps to
// Map.
func Decode(data []byte) (any, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after decode", len(rest))
	}
	return v, nil
}

func decodeValue(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("codec: unexpected end of input")
	}
	marker := data[0]
	rest := data[1:]
	switch marker {
	case TypeNull:
		return nil, rest, nil
	case TypeString:
		return string(rest), nil, nil
	case TypeNumber:
		return parseNumber(string(rest))
	case TypeBool:
		if len(rest) != 1 {
			return nil, nil, fmt.Errorf("codec: malformed bool")
		}
		return rest[0] == '1', nil, nil
	case TypeBigInt:
		n := new(big.Int)
		if _, ok := n.SetString(string(rest), 10); !ok {
			return nil, nil, fmt.Errorf("codec: malformed big integer %q", rest)
		}
		return n, nil, nil
	case TypeBytes:
		out := make([]byte, len(rest))
		copy(out, rest)
		return out, nil, nil
	case TypeTimestamp:
		ms, err := strconv.ParseInt(string(rest), 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: malformed timestamp: %w", err)
		}
		return time.UnixMilli(ms).UTC(), nil, nil
	case TypeArray:
		return decodeArray(rest)
	case TypeMap:
		return decodeMap(rest)
	default:
		return nil, nil, fmt.Errorf("codec: unknown type marker %d", marker)
	}
}

func parseNumber(s string) (any, []byte, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("codec: malformed number %q: %w", s, err)
	}
	return f, nil, nil
}

func decodeArray(data []byte) (any, []byte, error) {
	count, data, err := readU32(data)
	if err != nil {
		return nil, nil, err
	}
	items := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		size, remainder, err := readU32(data)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(remainder)) < size {
			return nil, nil, fmt.Errorf("codec: array element truncated")
		}
		elem, trailing, err := decodeValue(remainder[:size])
		if err != nil {
			return nil, nil, err
		}
		if len(trailing) != 0 {
			return nil, nil, fmt.Errorf("codec: array element has trailing bytes")
		}
		items = append(items, elem)
		data = remainder[size:]
	}
	return items, data, nil
}

func decodeMap(data []byte) (any, []byte, error) {
	count, data, err := readU32(data)
	if err != nil {
		return nil, nil, err
	}
	m := make(Map, count)
	for i := uint32(0); i < count; i++ {
		keySize, remainder, err := readU32(data)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(remainder)) < keySize {
			return nil, nil, fmt.Errorf("codec: map key truncated")
		}
		key := string(remainder[:keySize])
		data = remainder[keySize:]

		valSize, remainder, err := readU32(data)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(remainder)) < valSize {
			return nil, nil, fmt.Errorf("codec: map value truncated")
		}
		val, trailing, err := decodeValue(remainder[:valSize])
		if err != nil {
			return nil, nil, err
		}
		if len(trailing) != 0 {
			return nil, nil, fmt.Errorf("codec: map value has trailing bytes")
		}
		m[key] = val
		data = remainder[valSize:]
	}
	return m, data, nil
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("codec: truncated length field")
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

// NaturalLess implements the natural-ordering comparison required for map
// key canonicalization: runs of consecutive ASCII digits are compared
// numerically (so "a2" < "a10"), and all other runs are compared
// byte-for-byte lexicographically.
func NaturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			runA, nextI := digitRun(a, i)
			runB, nextJ := digitRun(b, j)
			if cmp := compareNumericStrings(runA, runB); cmp != 0 {
				return cmp < 0
			}
			i, j = nextI, nextJ
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func digitRun(s string, start int) (string, int) {
	end := start
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	return s[start:end], end
}

// compareNumericStrings compares two non-negative decimal digit runs by
// numeric value without risking overflow for arbitrarily long runs: strip
// leading zeros, then compare by length, then lexicographically.
func compareNumericStrings(a, b string) int {
	a = stripLeadingZeros(a)
	b = stripLeadingZeros(b)
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func stripLeadingZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}
