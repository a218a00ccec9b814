package basic

import "strings"

// DataType SQL数据类型标签。值与列共享同一套标签
type DataType int

const (
	TypeUnknown DataType = iota
	TypeNull             // 无类型NULL字面量
	TypeBool
	TypeInt64
	TypeFloat64
	TypeNumeric
	TypeBigNumeric
	TypeString
	TypeBytes
	TypeDate
	TypeTime
	TypeDateTime
	TypeTimestamp
	TypeInterval
	TypeJson
	TypeArray
	TypeStruct
	TypeGeography
	TypeRange
	TypeDefault // INSERT中的DEFAULT占位
)

var typeNames = map[DataType]string{
	TypeUnknown:    "UNKNOWN",
	TypeNull:       "NULL",
	TypeBool:       "BOOL",
	TypeInt64:      "INT64",
	TypeFloat64:    "FLOAT64",
	TypeNumeric:    "NUMERIC",
	TypeBigNumeric: "BIGNUMERIC",
	TypeString:     "STRING",
	TypeBytes:      "BYTES",
	TypeDate:       "DATE",
	TypeTime:       "TIME",
	TypeDateTime:   "DATETIME",
	TypeTimestamp:  "TIMESTAMP",
	TypeInterval:   "INTERVAL",
	TypeJson:       "JSON",
	TypeArray:      "ARRAY",
	TypeStruct:     "STRUCT",
	TypeGeography:  "GEOGRAPHY",
	TypeRange:      "RANGE",
	TypeDefault:    "DEFAULT",
}

func (t DataType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// TypeFromName 解析类型名，大小写不敏感，接受BigQuery别名
func TypeFromName(name string) (DataType, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BOOL", "BOOLEAN":
		return TypeBool, true
	case "INT64", "INT", "INTEGER", "SMALLINT", "BIGINT", "TINYINT", "BYTEINT":
		return TypeInt64, true
	case "FLOAT64", "FLOAT", "DOUBLE":
		return TypeFloat64, true
	case "NUMERIC", "DECIMAL":
		return TypeNumeric, true
	case "BIGNUMERIC", "BIGDECIMAL":
		return TypeBigNumeric, true
	case "STRING", "VARCHAR", "TEXT", "CHAR":
		return TypeString, true
	case "BYTES":
		return TypeBytes, true
	case "DATE":
		return TypeDate, true
	case "TIME":
		return TypeTime, true
	case "DATETIME":
		return TypeDateTime, true
	case "TIMESTAMP":
		return TypeTimestamp, true
	case "INTERVAL":
		return TypeInterval, true
	case "JSON":
		return TypeJson, true
	case "GEOGRAPHY":
		return TypeGeography, true
	case "STRUCT", "RECORD":
		return TypeStruct, true
	case "ARRAY":
		return TypeArray, true
	case "RANGE", "RANGE_DATE", "RANGE_DATETIME", "RANGE_TIMESTAMP":
		return TypeRange, true
	default:
		return TypeUnknown, false
	}
}

// IsNumericType 数值域类型
func (t DataType) IsNumericType() bool {
	switch t {
	case TypeInt64, TypeFloat64, TypeNumeric, TypeBigNumeric:
		return true
	}
	return false
}

// IsTemporal 时间域类型
func (t DataType) IsTemporal() bool {
	switch t {
	case TypeDate, TypeTime, TypeDateTime, TypeTimestamp:
		return true
	}
	return false
}

// IsOrderable 可比较排序的类型
func (t DataType) IsOrderable() bool {
	switch t {
	case TypeArray, TypeStruct, TypeJson, TypeGeography:
		return false
	}
	return true
}

// BigQueryTypeName BigQuery响应中的类型名
func (t DataType) BigQueryTypeName() string {
	switch t {
	case TypeBool:
		return "BOOLEAN"
	case TypeInt64:
		return "INTEGER"
	case TypeFloat64:
		return "FLOAT"
	case TypeStruct:
		return "RECORD"
	default:
		return t.String()
	}
}
