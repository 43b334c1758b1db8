package cafs

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/oneconcern/tablemon/pkg/model"
)

// fragmentVersion prefixes the hashed content of fragments
const fragmentVersion byte = 0x01

// Row is a tuple of values, in schema order.
//
// Supported values are int64, float64, string, []byte and nil.
type Row []interface{}

// Fragment is the content of an object
type Fragment struct {
	Format  string       `cbor:"1,keyasint"`
	Parent  string       `cbor:"2,keyasint,omitempty"`
	Schema  model.Schema `cbor:"3,keyasint"`
	Rows    []Row        `cbor:"4,keyasint,omitempty"`
	Deleted []Row        `cbor:"5,keyasint,omitempty"`
}

// Validate the consistency of a fragment
func (f Fragment) Validate() error {
	switch f.Format {
	case model.FormatSnapshot:
		if f.Parent != "" || len(f.Deleted) > 0 {
			return fmt.Errorf("a %s fragment has no parent and no deleted rows", f.Format)
		}
	case model.FormatDiff:
		if !model.IsValidHash(f.Parent) {
			return fmt.Errorf("a %s fragment requires a parent object", f.Format)
		}
	default:
		return fmt.Errorf("unknown fragment format %q", f.Format)
	}
	for _, rows := range [][]Row{f.Rows, f.Deleted} {
		for _, row := range rows {
			if len(row) != len(f.Schema) {
				return fmt.Errorf("row has %d values, but schema has %d columns", len(row), len(f.Schema))
			}
		}
	}
	return nil
}

// Parents of the fragment, as registered in the object metadata
func (f Fragment) Parents() []string {
	if f.Parent == "" {
		return nil
	}
	return []string{f.Parent}
}

type codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCodec() (codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return codec{}, err
	}
	dec, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return codec{}, err
	}
	return codec{enc: enc, dec: dec}, nil
}

// encode a normalized fragment in its canonical form
func (c codec) encode(f Fragment) ([]byte, error) {
	return c.enc.Marshal(f)
}

func (c codec) decode(b []byte) (Fragment, error) {
	var f Fragment
	if err := c.dec.Unmarshal(b, &f); err != nil {
		return Fragment{}, err
	}
	return f, nil
}

// rowKey yields a comparable representation of a row
func (c codec) rowKey(row Row) (string, error) {
	b, err := c.enc.Marshal(row)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// contentID is the blake2b hash of the canonical encoding
func contentID(canonical []byte) string {
	h := blake2b.New256()
	_, _ = h.Write([]byte{fragmentVersion})
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeValue converts a value read from the workspace to one of the supported value types.
//
// Unsigned integers above math.MaxInt64 are not supported: SQL integers are signed 64 bits.
func NormalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, int64, float64, string:
		return val, nil
	case []byte:
		if val == nil {
			return []byte{}, nil
		}
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		return unsignedValue(uint64(val))
	case uint64:
		return unsignedValue(val)
	case float32:
		return float64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}

func unsignedValue(val uint64) (interface{}, error) {
	if val > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows a signed 64 bits integer", val)
	}
	return int64(val), nil
}

// NormalizeRows converts all values in rows to supported value types, in place
func NormalizeRows(rows []Row) ([]Row, error) {
	for r, row := range rows {
		for i := range row {
			v, err := NormalizeValue(row[i])
			if err != nil {
				return nil, fmt.Errorf("row %d, column %d: %w", r+1, i+1, err)
			}
			row[i] = v
		}
	}
	return rows, nil
}
