package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is the fixed-width UTC layout used for stored times so that
// text ordering matches time ordering.
const TimeFormat = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// JSON handles scanning and storing a value as JSON text.
type JSON[T any] struct {
	V T
}

func (j *JSON[T]) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &j.V)
}

func (j JSON[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// NullTime handles scanning SQLite TEXT datetime columns.
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (t *NullTime) Scan(value any) error {
	var str string
	switch v := value.(type) {
	case nil:
		t.Valid = false
		return nil
	case []byte:
		str = string(v)
	case string:
		str = v
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into NullTime", value)
	}
	if str == "" {
		t.Valid = false
		return nil
	}
	for _, format := range []string{TimeFormat, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.ParseInLocation(format, str, time.UTC); err == nil {
			t.Time = parsed
			t.Valid = true
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", str)
}
