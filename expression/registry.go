package expression

import (
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
)

// Kernel 向量化内核：输入列与行数，输出等长列
type Kernel func(args []*metadata.Column, n int) (*metadata.Column, error)

// RowFunc 逐行标量函数：输入一行的参数值，输出一个值
type RowFunc func(args []basic.Value) (basic.Value, error)

// TypeRule 返回类型规则
type TypeRule func(args []basic.DataType) basic.DataType

type entry struct {
	name string
	// kernel 专用向量化内核，可为nil（由rowFn适配）
	kernel Kernel
	// rowFn 逐行实现
	rowFn RowFunc
	// handlesNulls 为true时NULL参数也传入rowFn（COALESCE族）；
	// 否则任一参数NULL直接输出NULL
	handlesNulls bool
	// retType 返回类型规则
	retType TypeRule
	// minArgs 最小参数数；-1表示不检查最小参数数（arity由实现自理）
	minArgs int
	maxArgs int // -1 无上限
}

var scalarFuncs = map[string]*entry{}

func register(e *entry) {
	scalarFuncs[e.name] = e
}

func fixedType(t basic.DataType) TypeRule {
	return func([]basic.DataType) basic.DataType { return t }
}

func sameAsArg(i int) TypeRule {
	return func(args []basic.DataType) basic.DataType {
		if i < len(args) {
			return args[i]
		}
		return basic.TypeUnknown
	}
}

func numericType(args []basic.DataType) basic.DataType {
	out := basic.TypeInt64
	for _, a := range args {
		switch a {
		case basic.TypeFloat64:
			return basic.TypeFloat64
		case basic.TypeBigNumeric:
			out = basic.TypeBigNumeric
		case basic.TypeNumeric:
			if out != basic.TypeBigNumeric {
				out = basic.TypeNumeric
			}
		}
	}
	return out
}

// Exists 函数是否注册
func Exists(name string) bool {
	_, ok := scalarFuncs[strings.ToUpper(name)]
	return ok
}

// ReturnType 标量函数返回类型
func ReturnType(name string, args []basic.DataType) (basic.DataType, bool) {
	e, ok := scalarFuncs[strings.ToUpper(name)]
	if !ok {
		return basic.TypeUnknown, false
	}
	return e.retType(args), true
}

// Dispatch 调用标量函数：优先专用向量化内核，否则逐行适配。
// 默认null规则：任一输入NULL该行输出NULL
func Dispatch(name string, args []*metadata.Column, n int) (*metadata.Column, error) {
	e, ok := scalarFuncs[strings.ToUpper(name)]
	if !ok {
		return nil, basic.FunctionNotFound(name)
	}
	if e.minArgs >= 0 && len(args) < e.minArgs {
		return nil, basic.InvalidFunction("%s requires at least %d arguments, got %d", e.name, e.minArgs, len(args))
	}
	if e.maxArgs >= 0 && len(args) > e.maxArgs {
		return nil, basic.InvalidFunction("%s accepts at most %d arguments, got %d", e.name, e.maxArgs, len(args))
	}
	if e.kernel != nil {
		return e.kernel(args, n)
	}
	return rowAdapter(e, args, n)
}

// CallRow 逐行路径直接调用（子查询/UDF环境）
func CallRow(name string, args []basic.Value) (basic.Value, error) {
	e, ok := scalarFuncs[strings.ToUpper(name)]
	if !ok {
		return basic.Value{}, basic.FunctionNotFound(name)
	}
	if !e.handlesNulls {
		for _, a := range args {
			if a.IsNull() {
				argTypes := make([]basic.DataType, len(args))
				for i, x := range args {
					argTypes[i] = x.Type()
				}
				return basic.TypedNull(e.retType(argTypes)), nil
			}
		}
	}
	return e.rowFn(args)
}

// rowAdapter 将逐行函数适配为向量化内核
func rowAdapter(e *entry, args []*metadata.Column, n int) (*metadata.Column, error) {
	argTypes := make([]basic.DataType, len(args))
	for i, c := range args {
		argTypes[i] = c.Type()
	}
	out := metadata.NewColumn(e.retType(argTypes))
	row := make([]basic.Value, len(args))
	for i := 0; i < n; i++ {
		isNull := false
		for c, col := range args {
			row[c] = col.GetValue(i)
			if row[c].IsNull() {
				isNull = true
			}
		}
		if isNull && !e.handlesNulls {
			out.AppendNull()
			continue
		}
		v, err := e.rowFn(row)
		if err != nil {
			return nil, err
		}
		if err := out.Append(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
