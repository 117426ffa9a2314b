package health

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindMissing is the zero Value: the probe never reported this metric.
	KindMissing Kind = iota
	KindSuccess
	KindFailure
	KindNumeric
)

// Reason explains why a probe produced a failure.
type Reason string

const (
	ReasonFailed      Reason = "failed"
	ReasonNotMeasured Reason = "could not measure"
	ReasonUnreachable Reason = "unreachable"
)

const successToken = "success"

// Value is a raw probe outcome: success, failure with a reason, or a number.
type Value struct {
	kind   Kind
	reason Reason
	num    float64
}

// Success returns a passing binary outcome.
func Success() Value {
	return Value{kind: KindSuccess}
}

// Failure returns a failed outcome with the given reason.
func Failure(reason Reason) Value {
	if reason == "" {
		reason = ReasonFailed
	}
	return Value{kind: KindFailure, reason: reason}
}

// Numeric returns a measured value. NaN and infinities cannot be compared
// against thresholds and are recorded as not measured instead.
func Numeric(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Failure(ReasonNotMeasured)
	}
	return Value{kind: KindNumeric, num: v}
}

// Bool maps a pass/fail outcome onto Success or Failure(ReasonFailed).
func Bool(ok bool) Value {
	if ok {
		return Success()
	}
	return Failure(ReasonFailed)
}

func (v Value) Kind() Kind {
	return v.kind
}

// IsFailure reports whether v is any failure sentinel.
func (v Value) IsFailure() bool {
	return v.kind == KindFailure
}

// IsSuccess reports whether v is the success token.
func (v Value) IsSuccess() bool {
	return v.kind == KindSuccess
}

// Reason returns the failure reason, or "" for non-failures.
func (v Value) Reason() Reason {
	return v.reason
}

// Number returns the numeric payload and whether v holds one.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumeric {
		return 0, false
	}
	return v.num, true
}

func (v Value) String() string {
	switch v.kind {
	case KindSuccess:
		return successToken
	case KindFailure:
		return string(v.reason)
	case KindNumeric:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON encodes numbers as JSON numbers and everything else as the
// token string. Missing values encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		return json.Marshal(v.num)
	case KindSuccess, KindFailure:
		return json.Marshal(v.String())
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Value{}
	case float64:
		*v = Numeric(x)
	case string:
		parsed, err := ParseToken(x)
		if err != nil {
			return err
		}
		*v = parsed
	default:
		return fmt.Errorf("cannot decode %T into health value", raw)
	}
	return nil
}

// ParseToken converts a textual token back into a Value.
func ParseToken(s string) (Value, error) {
	switch s {
	case successToken:
		return Success(), nil
	case string(ReasonFailed):
		return Failure(ReasonFailed), nil
	case string(ReasonNotMeasured):
		return Failure(ReasonNotMeasured), nil
	case string(ReasonUnreachable):
		return Failure(ReasonUnreachable), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Numeric(f), nil
	}
	return Value{}, fmt.Errorf("unknown health value token %q", s)
}
