package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap stores a free-form object as JSONB
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value any) error {
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	*m = JSONMap{}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// StringMap stores a string map as JSONB
type StringMap map[string]string

// Value implements driver.Valuer
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *StringMap) Scan(value any) error {
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	*m = StringMap{}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Durations stores a backoff schedule as a JSON array of seconds
type Durations []time.Duration

// Value implements driver.Valuer
func (d Durations) Value() (driver.Value, error) {
	secs := make([]float64, len(d))
	for i, v := range d {
		secs[i] = v.Seconds()
	}
	b, err := json.Marshal(secs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (d *Durations) Scan(value any) error {
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	*d = Durations{}
	if len(bytes) == 0 {
		return nil
	}
	var secs []float64
	if err := json.Unmarshal(bytes, &secs); err != nil {
		return err
	}
	for _, s := range secs {
		*d = append(*d, time.Duration(s*float64(time.Second)))
	}
	return nil
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("failed to scan JSON column: unsupported type")
	}
}
