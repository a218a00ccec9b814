package expression

import (
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
)

// IsRankedWindowName 纯窗口（排名/导航）函数名判定；
// 其余窗口应用为聚合+OVER，复用聚合累加器
func IsRankedWindowName(name string) bool {
	switch strings.ToUpper(name) {
	case "ROW_NUMBER", "RANK", "DENSE_RANK", "PERCENT_RANK", "CUME_DIST",
		"NTILE", "LAG", "LEAD", "FIRST_VALUE", "LAST_VALUE", "NTH_VALUE":
		return true
	}
	return false
}

// WindowReturnType 窗口函数返回类型
func WindowReturnType(name string, args []basic.DataType) basic.DataType {
	switch strings.ToUpper(name) {
	case "ROW_NUMBER", "RANK", "DENSE_RANK", "NTILE":
		return basic.TypeInt64
	case "PERCENT_RANK", "CUME_DIST":
		return basic.TypeFloat64
	case "LAG", "LEAD", "FIRST_VALUE", "LAST_VALUE", "NTH_VALUE":
		if len(args) > 0 {
			return args[0]
		}
		return basic.TypeUnknown
	default:
		return AggregateReturnType(name, args)
	}
}
