package expression

import (
	"regexp"
	"strings"
	"sync"

	"github.com/zhukovaskychina/yachtsql/basic"
)

func init() {
	register(&entry{name: "UPPER", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: str1(strings.ToUpper)})
	register(&entry{name: "LOWER", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: str1(strings.ToLower)})
	register(&entry{name: "LENGTH", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnLength})
	register(&entry{name: "CHAR_LENGTH", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnCharLength})
	register(&entry{name: "CHARACTER_LENGTH", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnCharLength})
	register(&entry{name: "BYTE_LENGTH", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnLength})
	register(&entry{name: "CONCAT", minArgs: 1, maxArgs: -1, retType: sameAsArg(0), rowFn: fnConcat})
	register(&entry{name: "SUBSTR", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnSubstr})
	register(&entry{name: "SUBSTRING", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnSubstr})
	register(&entry{name: "TRIM", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnTrim})
	register(&entry{name: "LTRIM", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnLtrim})
	register(&entry{name: "RTRIM", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnRtrim})
	register(&entry{name: "REPLACE", minArgs: 3, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnReplace})
	register(&entry{name: "SPLIT", minArgs: 1, maxArgs: 2, retType: fixedType(basic.TypeArray), rowFn: fnSplit})
	register(&entry{name: "STARTS_WITH", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: str2bool(strings.HasPrefix)})
	register(&entry{name: "ENDS_WITH", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: str2bool(strings.HasSuffix)})
	register(&entry{name: "CONTAINS_SUBSTR", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: fnContainsSubstr})
	register(&entry{name: "STRPOS", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeInt64), rowFn: fnStrpos})
	register(&entry{name: "INSTR", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeInt64), rowFn: fnStrpos})
	register(&entry{name: "REVERSE", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnReverse})
	register(&entry{name: "LPAD", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnLpad})
	register(&entry{name: "RPAD", minArgs: 2, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnRpad})
	register(&entry{name: "REPEAT", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnRepeat})
	register(&entry{name: "FORMAT", minArgs: 1, maxArgs: -1, retType: fixedType(basic.TypeString), rowFn: fnFormat})
	register(&entry{name: "REGEXP_CONTAINS", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeBool), rowFn: fnRegexpContains})
	register(&entry{name: "REGEXP_EXTRACT", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnRegexpExtract})
	register(&entry{name: "REGEXP_REPLACE", minArgs: 3, maxArgs: 3, retType: fixedType(basic.TypeString), rowFn: fnRegexpReplace})
	register(&entry{name: "LEFT", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnLeft})
	register(&entry{name: "RIGHT", minArgs: 2, maxArgs: 2, retType: fixedType(basic.TypeString), rowFn: fnRight})
	register(&entry{name: "ASCII", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeInt64), rowFn: fnAscii})
	register(&entry{name: "CHR", minArgs: 1, maxArgs: 1, retType: fixedType(basic.TypeString), rowFn: fnChr})
}

func asString(v basic.Value) (string, error) {
	if s, ok := v.AsString(); ok {
		return s, nil
	}
	return "", basic.TypeMismatch("STRING", v.Type().String())
}

func str1(fn func(string) string) RowFunc {
	return func(args []basic.Value) (basic.Value, error) {
		s, err := asString(args[0])
		if err != nil {
			return basic.Value{}, err
		}
		return basic.NewString(fn(s)), nil
	}
}

func str2bool(fn func(a, b string) bool) RowFunc {
	return func(args []basic.Value) (basic.Value, error) {
		a, err := asString(args[0])
		if err != nil {
			return basic.Value{}, err
		}
		b, err := asString(args[1])
		if err != nil {
			return basic.Value{}, err
		}
		return basic.NewBool(fn(a, b)), nil
	}
}

func fnLength(args []basic.Value) (basic.Value, error) {
	if b, ok := args[0].AsBytes(); ok {
		return basic.NewInt64(int64(len(b))), nil
	}
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(int64(len(s))), nil
}

func fnCharLength(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(int64(len([]rune(s)))), nil
}

func fnConcat(args []basic.Value) (basic.Value, error) {
	if _, ok := args[0].AsBytes(); ok {
		var out []byte
		for _, v := range args {
			b, ok := v.AsBytes()
			if !ok {
				return basic.Value{}, basic.TypeMismatch("BYTES", v.Type().String())
			}
			out = append(out, b...)
		}
		return basic.NewBytes(out), nil
	}
	var sb strings.Builder
	for _, v := range args {
		s, err := asString(v)
		if err != nil {
			return basic.Value{}, err
		}
		sb.WriteString(s)
	}
	return basic.NewString(sb.String()), nil
}

// SUBSTR下标从1起；负起点从尾部回数
func fnSubstr(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	start, ok := args[1].AsInt64()
	if !ok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[1].Type().String())
	}
	runes := []rune(s)
	n := int64(len(runes))
	if start < 0 {
		start = n + start + 1
		if start < 1 {
			start = 1
		}
	}
	if start < 1 {
		start = 1
	}
	if start > n {
		return basic.NewString(""), nil
	}
	end := n
	if len(args) == 3 {
		length, ok := args[2].AsInt64()
		if !ok {
			return basic.Value{}, basic.TypeMismatch("INT64", args[2].Type().String())
		}
		if length < 0 {
			return basic.Value{}, basic.InvalidQuery("SUBSTR length cannot be negative")
		}
		end = start - 1 + length
		if end > n {
			end = n
		}
	}
	return basic.NewString(string(runes[start-1 : end])), nil
}

func trimSet(args []basic.Value) (string, error) {
	if len(args) == 2 {
		return asString(args[1])
	}
	return " ", nil
}

func fnTrim(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	set, err := trimSet(args)
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(strings.Trim(s, set)), nil
}

func fnLtrim(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	set, err := trimSet(args)
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(strings.TrimLeft(s, set)), nil
}

func fnRtrim(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	set, err := trimSet(args)
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(strings.TrimRight(s, set)), nil
}

func fnReplace(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	from, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	to, err := asString(args[2])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewString(strings.ReplaceAll(s, from, to)), nil
}

func fnSplit(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	sep := ","
	if len(args) == 2 {
		sep, err = asString(args[1])
		if err != nil {
			return basic.Value{}, err
		}
	}
	parts := strings.Split(s, sep)
	items := make([]basic.Value, len(parts))
	for i, p := range parts {
		items[i] = basic.NewString(p)
	}
	return basic.NewArray(basic.ArrayValue{Elem: basic.TypeString, Items: items}), nil
}

func fnContainsSubstr(args []basic.Value) (basic.Value, error) {
	a, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	b, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewBool(strings.Contains(strings.ToLower(a), strings.ToLower(b))), nil
}

func fnStrpos(args []basic.Value) (basic.Value, error) {
	a, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	b, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewInt64(int64(strings.Index(a, b)) + 1), nil
}

func fnReverse(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return basic.NewString(string(runes)), nil
}

func padArgs(args []basic.Value) (string, int64, string, error) {
	s, err := asString(args[0])
	if err != nil {
		return "", 0, "", err
	}
	n, ok := args[1].AsInt64()
	if !ok {
		return "", 0, "", basic.TypeMismatch("INT64", args[1].Type().String())
	}
	pad := " "
	if len(args) == 3 {
		pad, err = asString(args[2])
		if err != nil {
			return "", 0, "", err
		}
	}
	if pad == "" {
		return "", 0, "", basic.InvalidQuery("pad string cannot be empty")
	}
	return s, n, pad, nil
}

func fnLpad(args []basic.Value) (basic.Value, error) {
	s, n, pad, err := padArgs(args)
	if err != nil {
		return basic.Value{}, err
	}
	runes := []rune(s)
	if int64(len(runes)) >= n {
		return basic.NewString(string(runes[:n])), nil
	}
	var sb strings.Builder
	for int64(sb.Len()+len(runes)) < n {
		sb.WriteString(pad)
	}
	prefix := []rune(sb.String())[:n-int64(len(runes))]
	return basic.NewString(string(prefix) + s), nil
}

func fnRpad(args []basic.Value) (basic.Value, error) {
	s, n, pad, err := padArgs(args)
	if err != nil {
		return basic.Value{}, err
	}
	runes := []rune(s)
	if int64(len(runes)) >= n {
		return basic.NewString(string(runes[:n])), nil
	}
	var sb strings.Builder
	sb.WriteString(s)
	for int64(len([]rune(sb.String()))) < n {
		sb.WriteString(pad)
	}
	return basic.NewString(string([]rune(sb.String())[:n])), nil
}

func fnRepeat(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	n, ok := args[1].AsInt64()
	if !ok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[1].Type().String())
	}
	if n < 0 {
		return basic.Value{}, basic.InvalidQuery("REPEAT count cannot be negative")
	}
	return basic.NewString(strings.Repeat(s, int(n))), nil
}

// FORMAT实现%s/%d/%f/%t的最小集
func fnFormat(args []basic.Value) (basic.Value, error) {
	f, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	var sb strings.Builder
	argi := 1
	for i := 0; i < len(f); i++ {
		if f[i] != '%' || i+1 >= len(f) {
			sb.WriteByte(f[i])
			continue
		}
		i++
		if f[i] == '%' {
			sb.WriteByte('%')
			continue
		}
		if argi >= len(args) {
			return basic.Value{}, basic.InvalidQuery("FORMAT: not enough arguments")
		}
		sb.WriteString(args[argi].String())
		argi++
	}
	return basic.NewString(sb.String()), nil
}

// 正则编译缓存
var (
	regexCacheMu sync.RWMutex
	regexCache   = map[string]*regexp.Regexp{}
)

func compileRegex(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, basic.InvalidQuery("invalid regular expression: %v", err)
	}
	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}

func fnRegexpContains(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	pat, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	re, err := compileRegex(pat)
	if err != nil {
		return basic.Value{}, err
	}
	return basic.NewBool(re.MatchString(s)), nil
}

func fnRegexpExtract(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	pat, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	re, err := compileRegex(pat)
	if err != nil {
		return basic.Value{}, err
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return basic.TypedNull(basic.TypeString), nil
	}
	if len(m) > 1 {
		return basic.NewString(m[1]), nil
	}
	return basic.NewString(m[0]), nil
}

func fnRegexpReplace(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	pat, err := asString(args[1])
	if err != nil {
		return basic.Value{}, err
	}
	repl, err := asString(args[2])
	if err != nil {
		return basic.Value{}, err
	}
	re, err := compileRegex(pat)
	if err != nil {
		return basic.Value{}, err
	}
	// BigQuery的\1反向引用转为Go的$1
	repl = strings.ReplaceAll(repl, "\\1", "$1")
	repl = strings.ReplaceAll(repl, "\\2", "$2")
	return basic.NewString(re.ReplaceAllString(s, repl)), nil
}

func fnLeft(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	n, ok := args[1].AsInt64()
	if !ok || n < 0 {
		return basic.Value{}, basic.InvalidQuery("LEFT length must be a non-negative INT64")
	}
	runes := []rune(s)
	if n > int64(len(runes)) {
		n = int64(len(runes))
	}
	return basic.NewString(string(runes[:n])), nil
}

func fnRight(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	n, ok := args[1].AsInt64()
	if !ok || n < 0 {
		return basic.Value{}, basic.InvalidQuery("RIGHT length must be a non-negative INT64")
	}
	runes := []rune(s)
	if n > int64(len(runes)) {
		n = int64(len(runes))
	}
	return basic.NewString(string(runes[int64(len(runes))-n:])), nil
}

func fnAscii(args []basic.Value) (basic.Value, error) {
	s, err := asString(args[0])
	if err != nil {
		return basic.Value{}, err
	}
	if s == "" {
		return basic.NewInt64(0), nil
	}
	return basic.NewInt64(int64(s[0])), nil
}

func fnChr(args []basic.Value) (basic.Value, error) {
	n, ok := args[0].AsInt64()
	if !ok {
		return basic.Value{}, basic.TypeMismatch("INT64", args[0].Type().String())
	}
	return basic.NewString(string(rune(n))), nil
}
