package basic

import "fmt"

// ErrorKind 错误类别，查询执行核心对外暴露的稳定错误分类
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrParse
	ErrInvalidQuery
	ErrRaisedException
	ErrTableNotFound
	ErrFunctionNotFound
	ErrColumnNotFound
	ErrAmbiguousColumn
	ErrTypeMismatch
	ErrSchemaMismatch
	ErrUnsupportedFeature
	ErrUnsupportedStatement
	ErrUnsupportedExpression
	ErrInvalidLiteral
	ErrInvalidFunction
	ErrDivisionByZero
	ErrOverflow
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParse:
		return "ParseError"
	case ErrInvalidQuery:
		return "InvalidQuery"
	case ErrRaisedException:
		return "RaisedException"
	case ErrTableNotFound:
		return "TableNotFound"
	case ErrFunctionNotFound:
		return "FunctionNotFound"
	case ErrColumnNotFound:
		return "ColumnNotFound"
	case ErrAmbiguousColumn:
		return "AmbiguousColumn"
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrSchemaMismatch:
		return "SchemaMismatch"
	case ErrUnsupportedFeature:
		return "UnsupportedFeature"
	case ErrUnsupportedStatement:
		return "UnsupportedStatement"
	case ErrUnsupportedExpression:
		return "UnsupportedExpression"
	case ErrInvalidLiteral:
		return "InvalidLiteral"
	case ErrInvalidFunction:
		return "InvalidFunction"
	case ErrDivisionByZero:
		return "DivisionByZero"
	case ErrOverflow:
		return "Overflow"
	case ErrInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error 引擎错误值。错误即值，不使用panic传播
type Error struct {
	Kind ErrorKind
	// Expected/Actual 仅TypeMismatch使用
	Expected string
	Actual   string
	Msg      string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrParse:
		return "Parse error: " + e.Msg
	case ErrInvalidQuery:
		return "Invalid query: " + e.Msg
	case ErrRaisedException:
		return e.Msg
	case ErrTableNotFound:
		return "Table not found: " + e.Msg
	case ErrFunctionNotFound:
		return "Function not found: " + e.Msg
	case ErrColumnNotFound:
		return "Column not found: " + e.Msg
	case ErrAmbiguousColumn:
		return "Ambiguous column: " + e.Msg
	case ErrTypeMismatch:
		return fmt.Sprintf("Type mismatch: expected %s, got %s", e.Expected, e.Actual)
	case ErrSchemaMismatch:
		return "Schema mismatch: " + e.Msg
	case ErrUnsupportedFeature:
		return "Unsupported feature: " + e.Msg
	case ErrUnsupportedStatement:
		return "Unsupported statement: " + e.Msg
	case ErrUnsupportedExpression:
		return "Unsupported expression: " + e.Msg
	case ErrInvalidLiteral:
		return "Invalid literal: " + e.Msg
	case ErrInvalidFunction:
		return "Invalid function: " + e.Msg
	case ErrDivisionByZero:
		return "Division by zero"
	case ErrOverflow:
		return "Numeric overflow"
	case ErrInternal:
		return "Internal error: " + e.Msg
	default:
		return e.Msg
	}
}

// KindOf 返回错误的分类；非引擎错误一律视为Internal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrUnknown
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	type causer interface{ Cause() error }
	if c, ok := err.(causer); ok {
		return KindOf(c.Cause())
	}
	return ErrInternal
}

// IsCatchable TryCatch可捕获的错误：Internal错误在单次执行内致命，不可捕获
func IsCatchable(err error) bool {
	k := KindOf(err)
	return k != ErrInternal && k != ErrUnknown
}

func ParseError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrParse, Msg: fmt.Sprintf(format, args...)}
}

func InvalidQuery(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidQuery, Msg: fmt.Sprintf(format, args...)}
}

func RaisedException(msg string) *Error {
	return &Error{Kind: ErrRaisedException, Msg: msg}
}

func TableNotFound(name string) *Error {
	return &Error{Kind: ErrTableNotFound, Msg: name}
}

func FunctionNotFound(name string) *Error {
	return &Error{Kind: ErrFunctionNotFound, Msg: name}
}

func ColumnNotFound(name string) *Error {
	return &Error{Kind: ErrColumnNotFound, Msg: name}
}

func AmbiguousColumn(name string) *Error {
	return &Error{Kind: ErrAmbiguousColumn, Msg: name}
}

func TypeMismatch(expected, actual string) *Error {
	return &Error{Kind: ErrTypeMismatch, Expected: expected, Actual: actual}
}

func SchemaMismatch(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrSchemaMismatch, Msg: fmt.Sprintf(format, args...)}
}

func UnsupportedFeature(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrUnsupportedFeature, Msg: fmt.Sprintf(format, args...)}
}

func UnsupportedStatement(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrUnsupportedStatement, Msg: fmt.Sprintf(format, args...)}
}

func UnsupportedExpression(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrUnsupportedExpression, Msg: fmt.Sprintf(format, args...)}
}

func InvalidLiteral(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidLiteral, Msg: fmt.Sprintf(format, args...)}
}

func InvalidFunction(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidFunction, Msg: fmt.Sprintf(format, args...)}
}

func DivisionByZero() *Error {
	return &Error{Kind: ErrDivisionByZero}
}

func Overflow() *Error {
	return &Error{Kind: ErrOverflow}
}

func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Msg: fmt.Sprintf(format, args...)}
}
