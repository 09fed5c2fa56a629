package ban

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire format (spec.md §6 "Ban export/import"):
//
//	offset  size  field
//	0       8     timestamp, IEEE-754 double, big-endian
//	8       4     total encoded length of this ban, big-endian uint32
//	12      1     flags (Flag bitmask, REQ/OBJ/COMPLETED/... )
//	13      3     zero padding, header is 16 bytes
//	16      ...   tests, back to back
//
// Each test is encoded as:
//
//	1 byte   Arg
//	1 byte   Op
//	2 bytes  field length (BE uint16), field bytes    -- only if Arg.hasField()
//	1 byte   1 if duration-valued else 0
//	8 bytes  duration (BE double)                      -- if duration-valued
//	4 bytes  literal length (BE uint32), literal bytes -- if not duration-valued
const headerSize = 16

// Encode renders b in the wire format above.
func Encode(b *Ban) []byte {
	body := make([]byte, 0, 64)
	for i := range b.tests {
		body = encodeTest(body, &b.tests[i])
	}

	total := headerSize + len(body)
	out := make([]byte, headerSize, total)
	binary.BigEndian.PutUint64(out[0:8], math.Float64bits(b.timestamp))
	binary.BigEndian.PutUint32(out[8:12], uint32(total))
	out[12] = byte(b.flags.Load())
	out = append(out, body...)
	return out
}

func encodeTest(dst []byte, t *Test) []byte {
	dst = append(dst, byte(t.Arg), byte(t.Op))
	if t.Arg.hasField() {
		fl := make([]byte, 2)
		binary.BigEndian.PutUint16(fl, uint16(len(t.Field)))
		dst = append(dst, fl...)
		dst = append(dst, t.Field...)
	}
	if t.Arg.isDuration() {
		dst = append(dst, 1)
		d := make([]byte, 8)
		binary.BigEndian.PutUint64(d, math.Float64bits(t.Duration))
		dst = append(dst, d...)
	} else {
		dst = append(dst, 0)
		ll := make([]byte, 4)
		binary.BigEndian.PutUint32(ll, uint32(len(t.Literal)))
		dst = append(dst, ll...)
		dst = append(dst, t.Literal...)
	}
	return dst
}

// Decode parses the wire format produced by Encode back into a Ban whose
// tests are fully validated and regex-compiled. The returned ban is not
// linked into any List; the caller decides whether/where to insert it
// (used by persistence's import path, SPEC_FULL §5).
func Decode(buf []byte) (*Ban, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("ban: truncated header (%d bytes)", len(buf))
	}
	ts := math.Float64frombits(binary.BigEndian.Uint64(buf[0:8]))
	total := binary.BigEndian.Uint32(buf[8:12])
	if int(total) != len(buf) {
		return nil, fmt.Errorf("ban: length mismatch, header says %d, got %d", total, len(buf))
	}
	flags := Flag(buf[12])

	tests, err := decodeTests(buf[headerSize:])
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("ban: decoded ban has no tests")
	}

	b := &Ban{timestamp: ts, tests: tests, objects: newObjList()}
	b.flags.Store(uint32(flags))
	b.refcount.Store(1)
	return b, nil
}

func decodeTests(buf []byte) ([]Test, error) {
	var tests []Test
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("ban: truncated test header")
		}
		arg := Arg(buf[0])
		op := Op(buf[1])
		buf = buf[2:]

		t := Test{Arg: arg, Op: op}

		if arg.hasField() {
			if len(buf) < 2 {
				return nil, fmt.Errorf("ban: truncated field length")
			}
			fl := int(binary.BigEndian.Uint16(buf[0:2]))
			buf = buf[2:]
			if len(buf) < fl {
				return nil, fmt.Errorf("ban: truncated field")
			}
			t.Field = string(buf[:fl])
			buf = buf[fl:]
		}

		if len(buf) < 1 {
			return nil, fmt.Errorf("ban: truncated duration marker")
		}
		isDuration := buf[0] == 1
		buf = buf[1:]

		if isDuration {
			if len(buf) < 8 {
				return nil, fmt.Errorf("ban: truncated duration")
			}
			t.Duration = math.Float64frombits(binary.BigEndian.Uint64(buf[0:8]))
			buf = buf[8:]
		} else {
			if len(buf) < 4 {
				return nil, fmt.Errorf("ban: truncated literal length")
			}
			ll := int(binary.BigEndian.Uint32(buf[0:4]))
			buf = buf[4:]
			if len(buf) < ll {
				return nil, fmt.Errorf("ban: truncated literal")
			}
			t.Literal = string(buf[:ll])
			buf = buf[ll:]
		}

		if err := validate(t.Arg, t.Op); err != nil {
			return nil, err
		}
		if err := t.compileRegex(); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, nil
}
