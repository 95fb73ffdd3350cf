package datastore

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// Metadata is the free-form key/value payload stored in jsonb columns, such
// as admin action details and notification payloads.
type Metadata map[string]interface{}

// Value implements driver.Valuer so Metadata writes as jsonb.
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner so Metadata reads back from jsonb.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan Metadata, not byte slice")
	}
	return json.Unmarshal(b, m)
}

// NullString wraps sql.NullString so nullable text columns, shipping method
// and meetup location among them, render as plain JSON strings or null
// instead of the {String, Valid} envelope.
type NullString struct {
	sql.NullString
}

// MarshalJSON encodes the wrapped string, or null when the column was null.
func (ns *NullString) MarshalJSON() ([]byte, error) {
	if !ns.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ns.String)
}

// UnmarshalJSON decodes a JSON string into ns. JSON null leaves ns unset.
func (ns *NullString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		ns.String, ns.Valid = "", false
		return nil
	}

	if err := json.Unmarshal(data, &ns.String); err != nil {
		return err
	}
	ns.Valid = true

	return nil
}
