package expression

import (
	"strings"
	"time"

	"github.com/zhukovaskychina/yachtsql/basic"
)

func init() {
	register(&entry{name: "CURRENT_DATE", minArgs: 0, maxArgs: 1, retType: fixedType(basic.TypeDate), rowFn: fnCurrentDate})
	register(&entry{name: "CURRENT_TIMESTAMP", minArgs: 0, maxArgs: 0, retType: fixedType(basic.TypeTimestamp), rowFn: fnCurrentTimestamp})
	register(&entry{name: "CURRENT_DATETIME", minArgs: 0, maxArgs: 1, retType: fixedType(basic.TypeDateTime), rowFn: fnCurrentDatetime})
	register(&entry{name: "CURRENT_TIME", minArgs: 0, maxArgs: 1, retType: fixedType(basic.TypeTime), rowFn: fnCurrentTime})
	register(&entry{name: "DATE", minArgs: 1, maxArgs: 3, retType: fixedType(basic.TypeDate), rowFn: fnDate})
	register(&entry{name: "DATETIME", minArgs: 1, maxArgs: 6, retType: fixedType(basic.TypeDateTime), rowFn: fnDatetime})
	register(&entry{name: "TIMESTAMP", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeTimestamp), rowFn: fnTimestamp})
	register(&entry{name: "TIME", minArgs: 1, maxArgs: 3, retType: fixedType(basic.TypeTime), rowFn: fnTime})
	register(&entry{name: "DATE_ADD", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateAdd})
	register(&entry{name: "DATE_SUB", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateSub})
	register(&entry{name: "DATETIME_ADD", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateAdd})
	register(&entry{name: "DATETIME_SUB", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateSub})
	register(&entry{name: "TIMESTAMP_ADD", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateAdd})
	register(&entry{name: "TIMESTAMP_SUB", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateSub})
	register(&entry{name: "DATE_DIFF", minArgs: 3, maxArgs: 3, retType: fixedType(basic.TypeInt64), rowFn: fnDateDiff})
	register(&entry{name: "DATETIME_DIFF", minArgs: 3, maxArgs: 3, retType: fixedType(basic.TypeInt64), rowFn: fnDateDiff})
	register(&entry{name: "TIMESTAMP_DIFF", minArgs: 3, maxArgs: 3, retType: fixedType(basic.TypeInt64), rowFn: fnDateDiff})
	register(&entry{name: "DATE_TRUNC", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateTrunc})
	register(&entry{name: "DATETIME_TRUNC", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateTrunc})
	register(&entry{name: "TIMESTAMP_TRUNC", minArgs: 2, maxArgs: 2, retType: sameAsArg(0), rowFn: fnDateTrunc})
	register(&entry{name: "FORMAT_DATE", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnFormatDate})
	register(&entry{name: "FORMAT_TIMESTAMP", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnFormatDate})
	register(&entry{name: "PARSE_DATE", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeDate), rowFn: fnParseDate})
	register(&entry{name: "UNIX_MICROS", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnUnixMicros})
	register(&entry{name: "UNIX_SECONDS", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnUnixSeconds})
	register(&entry{name: "TIMESTAMP_MICROS", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeTimestamp), rowFn: fnTimestampMicros})
	register(&entry{name: "TIMESTAMP_SECONDS", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeTimestamp), rowFn: fnTimestampSeconds})
	register(&entry{name: "GENERATE_DATE_ARRAY", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeArray), rowFn: fnGenerateDateArray})
	register(&entry{name: "LAST_DAY", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeDate), rowFn: fnLastDay})
}

func fnCurrentDate([]basic.Value) (basic.Value, error) {
	return basic.NewDate(time.Now().UTC().Unix() / 86400), nil
}

func fnCurrentTimestamp([]basic.Value) (basic.Value, error) {
	return basic.NewTimestamp(basic.TimeToMicros(time.Now().UTC())), nil
}

func fnCurrentDatetime([]basic.Value) (basic.Value, error) {
	return basic.NewDateTime(basic.TimeToMicros(time.Now().UTC())), nil
}

func fnCurrentTime([]basic.Value) (basic.Value, error) {
	now := time.Now().UTC()
	return basic.NewTime(basic.TimeFromParts(int64(now.Hour()), int64(now.Minute()), int64(now.Second()), int64(now.Nanosecond()))), nil
}

func fnDate(args []basic.Value) (basic.Value, error) {
	if len(args) == 3 {
		y, _ := args[0].AsInt64()
		m, _ := args[1].AsInt64()
		d, _ := args[2].AsInt64()
		t := time.Date(int(y), time.Month(m), int(d), 0, 0, 0, 0, time.UTC)
		return basic.NewDate(t.Unix() / 86400), nil
	}
	return basic.Coerce(args[0], basic.TypeDate)
}

func fnDatetime(args []basic.Value) (basic.Value, error) {
	if len(args) >= 3 {
		parts := make([]int64, 6)
		for i := 0; i < len(args) && i < 6; i++ {
			parts[i], _ = args[i].AsInt64()
		}
		t := time.Date(int(parts[0]), time.Month(parts[1]), int(parts[2]),
			int(parts[3]), int(parts[4]), int(parts[5]), 0, time.UTC)
		return basic.NewDateTime(basic.TimeToMicros(t)), nil
	}
	return basic.Coerce(args[0], basic.TypeDateTime)
}

func fnTimestamp(args []basic.Value) (basic.Value, error) {
	return basic.Coerce(args[0], basic.TypeTimestamp)
}

func fnTime(args []basic.Value) (basic.Value, error) {
	if len(args) == 3 {
		h, _ := args[0].AsInt64()
		m, _ := args[1].AsInt64()
		s, _ := args[2].AsInt64()
		return basic.NewTime(basic.TimeFromParts(h, m, s, 0)), nil
	}
	return basic.Coerce(args[0], basic.TypeTime)
}

func intervalArg(v basic.Value) (basic.Interval, error) {
	if iv, ok := v.AsInterval(); ok {
		return iv, nil
	}
	return basic.Interval{}, basic.TypeMismatch("INTERVAL", v.Type().String())
}

func fnDateAdd(args []basic.Value) (basic.Value, error) {
	iv, err := intervalArg(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.Arithmetic(basic.OpAdd, args[0], basic.NewInterval(iv))
}

func fnDateSub(args []basic.Value) (basic.Value, error) {
	iv, err := intervalArg(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.Arithmetic(basic.OpSub, args[0], basic.NewInterval(iv))
}

func temporalToTime(v basic.Value) (time.Time, error) {
	switch v.Type() {
	case basic.TypeDate:
		d, _ := v.Raw().(int64)
		return basic.DateToTime(d), nil
	case basic.TypeDateTime, basic.TypeTimestamp:
		m, _ := v.Raw().(int64)
		return basic.MicrosToTime(m), nil
	}
	return time.Time{}, basic.TypeMismatch("temporal", v.Type().String())
}

// DATE_DIFF(a, b, part) 返回a-b按part计数
func fnDateDiff(args []basic.Value) (basic.Value, error) {
	a, err := temporalToTime(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	b, err := temporalToTime(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	part, _ := args[2].AsString()
	switch strings.ToUpper(part) {
	case "YEAR":
		return basic.NewInt64(int64(a.Year() - b.Year())), nil
	case "MONTH":
		return basic.NewInt64(int64((a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month()))), nil
	case "DAY":
		return basic.NewInt64(int64(a.Sub(b).Hours() / 24)), nil
	case "HOUR":
		return basic.NewInt64(int64(a.Sub(b).Hours())), nil
	case "MINUTE":
		return basic.NewInt64(int64(a.Sub(b).Minutes())), nil
	case "SECOND":
		return basic.NewInt64(int64(a.Sub(b).Seconds())), nil
	case "MILLISECOND":
		return basic.NewInt64(a.Sub(b).Milliseconds()), nil
	case "MICROSECOND":
		return basic.NewInt64(a.Sub(b).Microseconds()), nil
	case "WEEK":
		return basic.NewInt64(int64(a.Sub(b).Hours() / 24 / 7)), nil
	}
	return basic.Value{}, basic.InvalidQuery("unsupported date part %q", part)
}

func fnDateTrunc(args []basic.Value) (basic.Value, error) {
	t, err := temporalToTime(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	part := ""
	if s, ok := args[1].AsString(); ok {
		part = s
	}
	var out time.Time
	switch strings.ToUpper(part) {
	case "YEAR":
		out = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	case "QUARTER":
		q := (int(t.Month())-1)/3*3 + 1
		out = time.Date(t.Year(), time.Month(q), 1, 0, 0, 0, 0, time.UTC)
	case "MONTH":
		out = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "WEEK":
		delta := int(t.Weekday())
		out = time.Date(t.Year(), t.Month(), t.Day()-delta, 0, 0, 0, 0, time.UTC)
	case "DAY":
		out = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "HOUR":
		out = t.Truncate(time.Hour)
	case "MINUTE":
		out = t.Truncate(time.Minute)
	case "SECOND":
		out = t.Truncate(time.Second)
	default:
		return basic.Value{}, basic.InvalidQuery("unsupported date part %q", part)
	}
	switch args[0].Type() {
	case basic.TypeDate:
		return basic.NewDate(out.Unix() / 86400), nil
	case basic.TypeDateTime:
		return basic.NewDateTime(basic.TimeToMicros(out)), nil
	default:
		return basic.NewTimestamp(basic.TimeToMicros(out)), nil
	}
}

// BigQuery格式符到Go layout的最小映射
var formatReplacer = strings.NewReplacer(
	"%Y", "2006", "%m", "01", "%d", "02",
	"%H", "15", "%M", "04", "%S", "05",
	"%F", "2006-01-02", "%T", "15:04:05",
)

func fnFormatDate(args []basic.Value) (basic.Value, error) {
	f, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	t, err := temporalToTime(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(t.Format(formatReplacer.Replace(f))), nil
}

func fnParseDate(args []basic.Value) (basic.Value, error) {
	f, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	s, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	t, err2 := time.ParseInLocation(formatReplacer.Replace(f), s, time.UTC)
	if err2 != nil {
		return basic.Value{}, basic.InvalidLiteral("cannot parse %q as DATE with format %q", s, f)
	}
	return basic.NewDate(t.Unix() / 86400), nil
}

func fnUnixMicros(args []basic.Value) (basic.Value, error) {
	m, ok := args[0].Raw().(int64)
	if !ok || args[0].Type() != basic.TypeTimestamp {
		return basic.Value{}, basic.TypeMismatch("TIMESTAMP", args[0].Type().String())
	}
	return basic.NewInt64(m), nil
}

func fnUnixSeconds(args []basic.Value) (basic.Value, error) {
	m, ok := args[0].Raw().(int64)
	if !ok || args[0].Type() != basic.TypeTimestamp {
		return basic.Value{}, basic.TypeMismatch("TIMESTAMP", args[0].Type().String())
	}
	return basic.NewInt64(m / basic.MicrosPerSecond), nil
}

func fnTimestampMicros(args []basic.Value) (basic.Value, error) {
	m, ok := args[0].AsInt64()
	if !ok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[0].Type().String())
	}
	return basic.NewTimestamp(m), nil
}

func fnTimestampSeconds(args []basic.Value) (basic.Value, error) {
	s, ok := args[0].AsInt64()
	if !ok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[0].Type().String())
	}
	return basic.NewTimestamp(s * basic.MicrosPerSecond), nil
}

func fnGenerateDateArray(args []basic.Value) (basic.Value, error) {
	start, err := basic.Coerce(args[0], basic.TypeDate)
	if err != nil {
		return basic.Value{}, err
	}
	end, err := basic.Coerce(args[1], basic.TypeDate)
	if err != nil {
		return basic.Value{}, err
	}
	step := basic.Interval{Days: 1}
	if len(args) == 3 {
		step, err = intervalArg(args[2])
		if err != nil {
			return basic.Value{}, err
		}
	}
	if step.Months == 0 && step.Days == 0 {
		return basic.Value{}, basic.InvalidQuery("GENERATE_DATE_ARRAY step cannot be zero")
	}
	var items []basic.Value
	cur := start
	for i := 0; i < 100000; i++ {
		if (step.Days > 0 || step.Months > 0) && basic.Compare(cur, end) > 0 {
			break
		}
		if (step.Days < 0 || step.Months < 0) && basic.Compare(cur, end) < 0 {
			break
		}
		items = append(items, cur)
		next, err := basic.Arithmetic(basic.OpAdd, cur, basic.NewInterval(step))
		if err != nil {
			return basic.Value{}, err
		}
		cur = next
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeDate, Items: items}), nil
}

func fnLastDay(args []basic.Value) (basic.Value, error) {
	t, err := temporalToTime(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return basic.NewDate(last.Unix() / 86400), nil
}
