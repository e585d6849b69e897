package gridcode

import (
	"encoding/binary"
	"fmt"

	"github.com/geosot/gridindex/errors"
)

// Dimension tells 2D and 3D codes apart in stored records.
type Dimension uint16

const (
	Dim2D Dimension = 0
	Dim3D Dimension = 1
)

func (d Dimension) String() string {
	if d == Dim3D {
		return "3D"
	}
	return "2D"
}

// Record sizes in bytes, header included.
const (
	Record2DSize = 16
	Record3DSize = 20

	recordHeaderSize = 6
)

var recordOrder = binary.LittleEndian

// Record is a stored grid code. The concrete types are Record2D and Record3D.
type Record interface {
	Dimension() Dimension
	MarshalBinary() ([]byte, error)
}

// Record2D is the 16-byte on-disk form of a 2D code:
// length(4) flag(2) level(1) level_min(1) code(8).
type Record2D struct {
	Level    int
	LevelMin int
	Code     Code2D
}

// NewRecord2D wraps a code; LevelMin defaults to the code's level.
func NewRecord2D(c Code2D) Record2D {
	return Record2D{Level: c.Level(), LevelMin: c.Level(), Code: c}
}

func (r Record2D) Dimension() Dimension { return Dim2D }

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record2D) MarshalBinary() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	b := make([]byte, Record2DSize)
	recordOrder.PutUint32(b[0:4], Record2DSize)
	recordOrder.PutUint16(b[4:6], uint16(Dim2D))
	b[6] = byte(r.Level)
	b[7] = byte(r.LevelMin)
	recordOrder.PutUint64(b[8:16], uint64(r.Code))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record2D) UnmarshalBinary(b []byte) error {
	if err := checkHeader(b, Record2DSize, Dim2D); err != nil {
		return err
	}
	rec := Record2D{
		Level:    int(b[6]),
		LevelMin: int(b[7]),
		Code:     Code2D(recordOrder.Uint64(b[8:16])),
	}
	if err := rec.validate(); err != nil {
		return err
	}
	*r = rec
	return nil
}

func (r Record2D) validate() error {
	if err := ValidateLevel(r.Level); err != nil {
		return err
	}
	if r.LevelMin < 0 || r.LevelMin > r.Level {
		return errors.InvalidLevel(r.LevelMin, r.Level)
	}
	if r.Code.Level() != r.Level {
		return errors.Validation(fmt.Sprintf("code tag level %d does not match record level %d", r.Code.Level(), r.Level))
	}
	return nil
}

// Record3D is the 20-byte on-disk form of a 3D code:
// length(4) flag(2) level(2) code(12, least-significant word first).
type Record3D struct {
	Level int
	Code  Code3D
}

func (r Record3D) Dimension() Dimension { return Dim3D }

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record3D) MarshalBinary() ([]byte, error) {
	if err := ValidateLevel(r.Level); err != nil {
		return nil, err
	}
	b := make([]byte, Record3DSize)
	recordOrder.PutUint32(b[0:4], Record3DSize)
	recordOrder.PutUint16(b[4:6], uint16(Dim3D))
	recordOrder.PutUint16(b[6:8], uint16(r.Level))
	for i, w := range r.Code {
		recordOrder.PutUint32(b[8+4*i:], w)
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record3D) UnmarshalBinary(b []byte) error {
	if err := checkHeader(b, Record3DSize, Dim3D); err != nil {
		return err
	}
	level := int(recordOrder.Uint16(b[6:8]))
	if err := ValidateLevel(level); err != nil {
		return err
	}
	var c Code3D
	for i := range c {
		c[i] = recordOrder.Uint32(b[8+4*i:])
	}
	*r = Record3D{Level: level, Code: c}
	return nil
}

// UnmarshalRecord decodes one record, choosing the variant from its flag.
func UnmarshalRecord(b []byte) (Record, error) {
	if len(b) < recordHeaderSize {
		return nil, errors.Validation(fmt.Sprintf("record too short: %d bytes", len(b)))
	}
	switch Dimension(recordOrder.Uint16(b[4:6])) {
	case Dim2D:
		var r Record2D
		if err := r.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return r, nil
	case Dim3D:
		var r Record3D
		if err := r.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Validation(fmt.Sprintf("unknown record flag %d", recordOrder.Uint16(b[4:6])))
	}
}

// SplitRecords decodes a concatenation of records.
func SplitRecords(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, errors.Validation("truncated record header")
		}
		size := int(recordOrder.Uint32(b[0:4]))
		if size < recordHeaderSize || size > len(b) {
			return nil, errors.Validation(fmt.Sprintf("bad record length %d", size))
		}
		rec, err := UnmarshalRecord(b[:size])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		b = b[size:]
	}
	return out, nil
}

func checkHeader(b []byte, size int, dim Dimension) error {
	if len(b) != size {
		return errors.Validation(fmt.Sprintf("%s record must be %d bytes, got %d", dim, size, len(b)))
	}
	if n := recordOrder.Uint32(b[0:4]); int(n) != size {
		return errors.Validation(fmt.Sprintf("%s record length field %d, want %d", dim, n, size))
	}
	if got := Dimension(recordOrder.Uint16(b[4:6])); got != dim {
		return errors.TypeMismatch(fmt.Sprintf("record flag %s, want %s", got, dim))
	}
	return nil
}
