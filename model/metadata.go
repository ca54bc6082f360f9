package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/siherrmann/mailrank/helper"
)

// Metadata holds free-form chunk and entity annotations, persisted as
// JSONB.
type Metadata map[string]interface{}

// Value implements driver.Valuer for writing JSONB columns
func (m Metadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements sql.Scanner for reading JSONB columns
func (m *Metadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal encodes the metadata as JSON
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes JSON bytes, a JSON string or another Metadata
// value. Nil decodes to an empty map so callers never index into a nil
// map after a scan.
func (m *Metadata) Unmarshal(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case Metadata:
		*m = v
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return helper.NewError("unmarshal metadata", fmt.Errorf("unsupported source type %T", value))
	}
}
