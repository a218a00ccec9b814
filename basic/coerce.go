package basic

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Coerce 将值转换到目标类型。用于INSERT列对齐与CAST。
// 不可表示的转换返回TypeMismatch，字面量解析失败返回InvalidLiteral
func Coerce(v Value, target DataType) (Value, error) {
	if v.IsNull() {
		return TypedNull(target), nil
	}
	if v.typ == target || target == TypeUnknown {
		return v, nil
	}
	switch target {
	case TypeBool:
		switch v.typ {
		case TypeString:
			s, _ := v.AsString()
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				return NewBool(true), nil
			case "false":
				return NewBool(false), nil
			}
			return Value{}, InvalidLiteral("invalid BOOL literal: %q", s)
		case TypeInt64:
			i, _ := v.AsInt64()
			return NewBool(i != 0), nil
		}
	case TypeInt64:
		switch v.typ {
		case TypeBool:
			b, _ := v.AsBool()
			if b {
				return NewInt64(1), nil
			}
			return NewInt64(0), nil
		case TypeFloat64:
			f, _ := v.AsFloat64()
			if f != f || f > 9.223372036854775e18 || f < -9.223372036854776e18 {
				return Value{}, Overflow()
			}
			// CAST到整数采用最近偶数之外的四舍五入
			if f >= 0 {
				return NewInt64(int64(f + 0.5)), nil
			}
			return NewInt64(int64(f - 0.5)), nil
		case TypeNumeric, TypeBigNumeric:
			d, _ := v.AsDecimal()
			return NewInt64(d.Round(0).IntPart()), nil
		case TypeString:
			s, _ := v.AsString()
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return Value{}, InvalidLiteral("invalid INT64 literal: %q", s)
			}
			return NewInt64(i), nil
		}
	case TypeFloat64:
		if f, ok := v.ToNumber(); ok {
			return NewFloat64(f), nil
		}
		if s, ok := v.AsString(); ok {
			f, err := parseFloatLiteral(s)
			if err != nil {
				return Value{}, err
			}
			return NewFloat64(f), nil
		}
	case TypeNumeric, TypeBigNumeric:
		mk := NewNumeric
		if target == TypeBigNumeric {
			mk = NewBigNumeric
		}
		if d, ok := v.ToDecimal(); ok {
			return mk(d), nil
		}
		if s, ok := v.AsString(); ok {
			d, err := decimal.NewFromString(strings.TrimSpace(s))
			if err != nil {
				return Value{}, InvalidLiteral("invalid NUMERIC literal: %q", s)
			}
			return mk(d), nil
		}
	case TypeString:
		switch v.typ {
		case TypeBytes:
			b, _ := v.AsBytes()
			return NewString(string(b)), nil
		default:
			return NewString(v.String()), nil
		}
	case TypeBytes:
		if s, ok := v.AsString(); ok {
			return NewBytes([]byte(s)), nil
		}
	case TypeDate:
		switch v.typ {
		case TypeString:
			s, _ := v.AsString()
			return ParseDate(s)
		case TypeTimestamp, TypeDateTime:
			tm := MicrosToTime(v.v.(int64))
			return NewDate(tm.Unix() / 86400), nil
		}
	case TypeTime:
		if s, ok := v.AsString(); ok {
			return ParseTime(s)
		}
		if v.typ == TypeTimestamp || v.typ == TypeDateTime {
			tm := MicrosToTime(v.v.(int64))
			return NewTime(TimeFromParts(int64(tm.Hour()), int64(tm.Minute()), int64(tm.Second()), int64(tm.Nanosecond()))), nil
		}
	case TypeDateTime:
		switch v.typ {
		case TypeString:
			s, _ := v.AsString()
			return ParseDateTime(s)
		case TypeDate:
			return NewDateTime(v.v.(int64) * 86400 * MicrosPerSecond), nil
		case TypeTimestamp:
			return NewDateTime(v.v.(int64)), nil
		}
	case TypeTimestamp:
		switch v.typ {
		case TypeString:
			s, _ := v.AsString()
			return ParseTimestamp(s)
		case TypeDate:
			return NewTimestamp(v.v.(int64) * 86400 * MicrosPerSecond), nil
		case TypeDateTime:
			return NewTimestamp(v.v.(int64)), nil
		}
	case TypeJson:
		if s, ok := v.AsString(); ok {
			var j interface{}
			if err := json.Unmarshal([]byte(s), &j); err != nil {
				return Value{}, InvalidLiteral("invalid JSON literal: %q", s)
			}
			return NewJson(j), nil
		}
	case TypeGeography:
		if s, ok := v.AsString(); ok {
			return NewGeography(s), nil
		}
	case TypeArray:
		if a, ok := v.AsArray(); ok {
			return NewArray(a), nil
		}
	}
	return Value{}, TypeMismatch(target.String(), v.typ.String())
}

func parseFloatLiteral(s string) (float64, error) {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "nan":
		return math.NaN(), nil
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, InvalidLiteral("invalid FLOAT64 literal: %q", s)
	}
	return f, nil
}

// ParseDate 解析civil日期字面量
func ParseDate(s string) (Value, error) {
	tm, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Value{}, InvalidLiteral("invalid DATE literal: %q", s)
	}
	return NewDate(tm.Unix() / 86400), nil
}

// ParseTime 解析time-of-day字面量
func ParseTime(s string) (Value, error) {
	t := strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05.999999999", "15:04:05", "15:04"} {
		if tm, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
			return NewTime(TimeFromParts(int64(tm.Hour()), int64(tm.Minute()), int64(tm.Second()), int64(tm.Nanosecond()))), nil
		}
	}
	return Value{}, InvalidLiteral("invalid TIME literal: %q", s)
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDateTime 解析civil日期时间字面量
func ParseDateTime(s string) (Value, error) {
	t := strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if tm, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
			return NewDateTime(TimeToMicros(tm)), nil
		}
	}
	return Value{}, InvalidLiteral("invalid DATETIME literal: %q", s)
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp 解析时间戳字面量，无时区后缀按UTC处理
func ParseTimestamp(s string) (Value, error) {
	t := strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if tm, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
			return NewTimestamp(TimeToMicros(tm.UTC())), nil
		}
	}
	return Value{}, InvalidLiteral("invalid TIMESTAMP literal: %q", s)
}
