package model

import (
    "encoding/json"
    "errors"
    "strings"
    "time"
)

// Optional is a JSON field that remembers whether it was present in the
// request body and whether it was an explicit null.  Absent fields keep
// the zero Optional because encoding/json never calls UnmarshalJSON for them.
type Optional[T any] struct {
    Value T
    Set   bool
    Null  bool
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Set: true} }

// Null returns a present Optional holding an explicit null.
func Null[T any]() Optional[T] { return Optional[T]{Set: true, Null: true} }

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
    o.Set = true
    if string(b) == "null" {
        var zero T
        o.Value = zero
        o.Null = true
        return nil
    }
    o.Null = false
    return json.Unmarshal(b, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
    if !o.Set || o.Null {
        return []byte("null"), nil
    }
    return json.Marshal(o.Value)
}

// Date is a calendar date carried as "YYYY-MM-DD" on the wire.
type Date struct {
    time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
    t, err := time.Parse(dateLayout, strings.TrimSpace(s))
    if err != nil {
        return Date{}, errors.New("date must use the YYYY-MM-DD format")
    }
    return Date{Time: t}, nil
}

// DateOf drops the clock part of t.
func DateOf(t time.Time) Date {
    y, m, d := t.Date()
    return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
    return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
    var s string
    if err := json.Unmarshal(b, &s); err != nil {
        return errors.New("date must be a string")
    }
    parsed, err := ParseDate(s)
    if err != nil {
        return err
    }
    *d = parsed
    return nil
}
