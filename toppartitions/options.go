package toppartitions

import (
	"strconv"
	"strings"
	"time"
)

// Options configures one sampling session
type Options struct {
	Keyspace string
	Table    string
	Duration time.Duration
	ListSize int
	Capacity int
}

// Limits bound what a caller may request
type Limits struct {
	MaxDuration time.Duration
	MaxListSize int
	MaxCapacity int
}

// ParseDuration accepts plain milliseconds ("1000") or a Go duration ("1.5s").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "duration", Value: s, Reason: "empty"}
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms <= 0 {
			return 0, &ValidationError{Field: "duration", Value: s, Reason: "must be positive"}
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ValidationError{Field: "duration", Value: s, Reason: "not a number of milliseconds or a duration"}
	}
	if d <= 0 {
		return 0, &ValidationError{Field: "duration", Value: s, Reason: "must be positive"}
	}
	return d, nil
}

// Validate checks o against limits. A zero limit is not enforced.
func (o Options) Validate(limits Limits) error {
	switch {
	case o.Keyspace == "":
		return &ValidationError{Field: "keyspace", Value: o.Keyspace, Reason: "required"}
	case o.Table == "":
		return &ValidationError{Field: "table", Value: o.Table, Reason: "required"}
	case o.Duration <= 0:
		return &ValidationError{Field: "duration", Value: o.Duration.String(), Reason: "must be positive"}
	case limits.MaxDuration > 0 && o.Duration > limits.MaxDuration:
		return &ValidationError{Field: "duration", Value: o.Duration.String(), Reason: "exceeds " + limits.MaxDuration.String()}
	case o.ListSize < 1:
		return &ValidationError{Field: "list_size", Value: strconv.Itoa(o.ListSize), Reason: "must be at least 1"}
	case limits.MaxListSize > 0 && o.ListSize > limits.MaxListSize:
		return &ValidationError{Field: "list_size", Value: strconv.Itoa(o.ListSize), Reason: "exceeds " + strconv.Itoa(limits.MaxListSize)}
	case o.Capacity < 1:
		return &ValidationError{Field: "capacity", Value: strconv.Itoa(o.Capacity), Reason: "must be at least 1"}
	case limits.MaxCapacity > 0 && o.Capacity > limits.MaxCapacity:
		return &ValidationError{Field: "capacity", Value: strconv.Itoa(o.Capacity), Reason: "exceeds " + strconv.Itoa(limits.MaxCapacity)}
	case o.Capacity < o.ListSize:
		return &ValidationError{Field: "capacity", Value: strconv.Itoa(o.Capacity), Reason: "must not be smaller than list_size"}
	}
	return nil
}
