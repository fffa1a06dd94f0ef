// Package codec implements the LTTLV (Length-Tag-Type-Length-Value) record
// format: a single uppercase-hex, newline-terminated line per key/value pair,
// and the deterministic key-to-shard hash used everywhere a key is looked up.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kalbasit/cube/pkg/value"
)

const (
	// MaxKeyBytes is the largest key Cube accepts, per spec.md §3.
	MaxKeyBytes = 512

	// ShardCount is the fixed number of shards. Changing this breaks
	// on-disk compatibility (spec.md §6), so it is not configurable.
	ShardCount = 20

	keyLenHexDigits   = 3
	valueLenHexDigits = 8

	tagString  = '0'
	tagInteger = '1'
	tagFloat   = '2'
	tagBoolean = '3'
	tagNil     = '4'
)

// ErrKeyTooLong is returned when a key exceeds MaxKeyBytes.
var ErrKeyTooLong = errors.New("codec: key exceeds maximum length")

// ErrMalformedRecord is returned when a stored line does not parse as a
// well-formed LTTLV record.
var ErrMalformedRecord = errors.New("codec: malformed LTTLV record")

// ShardOf returns the two-digit shard identifier for an (already hex-encoded,
// uppercase) key. GET and SET on the same key hash identically because both
// paths route through this function on the same keyHex input.
func ShardOf(keyHex string) string {
	h := xxhash.Sum64String(keyHex)

	return fmt.Sprintf("%02d", h%uint64(ShardCount))
}

func keyLenPrefix(keyHexLen int) string {
	return fmt.Sprintf("%0*X", keyLenHexDigits, keyHexLen)
}

// EncodeGet computes the key prefix and owning shard for a GET of key.
func EncodeGet(key []byte) (prefix string, shardID string, err error) {
	if len(key) > MaxKeyBytes {
		return "", "", fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}

	keyHex := strings.ToUpper(hex.EncodeToString(key))
	prefix = keyLenPrefix(len(keyHex)) + keyHex

	return prefix, ShardOf(keyHex), nil
}

// EncodeSet encodes a full LTTLV record (newline-terminated) for key/val and
// returns the shard that owns it.
func EncodeSet(key []byte, val value.Value) (record string, shardID string, err error) {
	if len(key) > MaxKeyBytes {
		return "", "", fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}

	keyHex := strings.ToUpper(hex.EncodeToString(key))

	tag, valBytes := encodeValue(val)
	valHex := strings.ToUpper(hex.EncodeToString(valBytes))

	var sb strings.Builder

	sb.WriteString(keyLenPrefix(len(keyHex)))
	sb.WriteString(keyHex)
	sb.WriteByte(tag)
	sb.WriteString(fmt.Sprintf("%0*X", valueLenHexDigits, len(valBytes)))
	sb.WriteString(valHex)
	sb.WriteByte('\n')

	return sb.String(), ShardOf(keyHex), nil
}

func encodeValue(val value.Value) (tag byte, raw []byte) {
	switch val.Kind {
	case value.KindNil:
		return tagNil, nil
	case value.KindBoolean:
		return tagBoolean, []byte(val.Canonical())
	case value.KindInteger:
		return tagInteger, []byte(val.Canonical())
	case value.KindString:
		return tagString, []byte(val.Str)
	default:
		return tagString, []byte(val.Str)
	}
}

// ExtractKeyPrefix returns the leading LLL||keyHex substring of a record or
// GET fragment.
func ExtractKeyPrefix(record string) (string, error) {
	n, err := readKeyHexLen(record)
	if err != nil {
		return "", err
	}

	if len(record) < keyLenHexDigits+n {
		return "", fmt.Errorf("%w: truncated key", ErrMalformedRecord)
	}

	return record[:keyLenHexDigits+n], nil
}

func readKeyHexLen(record string) (int, error) {
	if len(record) < keyLenHexDigits {
		return 0, fmt.Errorf("%w: too short for key-length field", ErrMalformedRecord)
	}

	v, err := parseHexUint(record[:keyLenHexDigits])
	if err != nil {
		return 0, fmt.Errorf("%w: bad key-length field: %v", ErrMalformedRecord, err)
	}

	return int(v), nil
}

func parseHexUint(s string) (uint64, error) {
	var v uint64

	for _, r := range s {
		d, ok := hexDigit(r)
		if !ok {
			return 0, fmt.Errorf("not a hex digit: %q", r)
		}

		v = v*16 + uint64(d)
	}

	return v, nil
}

func hexDigit(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r - '0'), true
	case r >= 'A' && r <= 'F':
		return byte(r-'A') + 10, true
	case r >= 'a' && r <= 'f':
		return byte(r-'a') + 10, true
	default:
		return 0, false
	}
}

// Decode parses a full LTTLV record (trailing newline optional) and returns
// the canonical string form of its value.
func Decode(record string) (string, error) {
	record = strings.TrimSuffix(record, "\n")

	keyHexLen, err := readKeyHexLen(record)
	if err != nil {
		return "", err
	}

	pos := keyLenHexDigits + keyHexLen
	if len(record) < pos+1+valueLenHexDigits {
		return "", fmt.Errorf("%w: truncated header", ErrMalformedRecord)
	}

	tag := record[pos]
	pos++

	valLen, err := parseHexUint(record[pos : pos+valueLenHexDigits])
	if err != nil {
		return "", fmt.Errorf("%w: bad value-length field: %v", ErrMalformedRecord, err)
	}

	pos += valueLenHexDigits

	wantHexLen := int(valLen) * 2
	if len(record) < pos+wantHexLen {
		return "", fmt.Errorf("%w: truncated value", ErrMalformedRecord)
	}

	valHex := record[pos : pos+wantHexLen]

	valBytes, err := hex.DecodeString(valHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad value hex: %v", ErrMalformedRecord, err)
	}

	switch tag {
	case tagNil:
		return "NIL", nil
	case tagBoolean, tagInteger, tagString, tagFloat:
		return string(valBytes), nil
	default:
		return "", fmt.Errorf("%w: unknown type tag %q", ErrMalformedRecord, tag)
	}
}
