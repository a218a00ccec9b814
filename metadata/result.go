package metadata

import (
	"encoding/json"
	"strconv"

	"github.com/zhukovaskychina/yachtsql/basic"
)

// BigQuery兼容的查询响应结构
type QueryResponse struct {
	Kind        string         `json:"kind"`
	Schema      ResponseSchema `json:"schema"`
	Rows        []ResponseRow  `json:"rows"`
	TotalRows   string         `json:"totalRows"`
	JobComplete bool           `json:"jobComplete"`
}

type ResponseSchema struct {
	Fields []ResponseField `json:"fields"`
}

type ResponseField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ResponseRow struct {
	F []ResponseCell `json:"f"`
}

type ResponseCell struct {
	V interface{} `json:"v"`
}

// ToQueryResponse 渲染为BigQuery兼容的JSON响应
func (t *Table) ToQueryResponse() *QueryResponse {
	resp := &QueryResponse{
		Kind:        "bigquery#queryResponse",
		TotalRows:   strconv.Itoa(t.RowCount()),
		JobComplete: true,
	}
	for _, f := range t.schema.Fields {
		resp.Schema.Fields = append(resp.Schema.Fields, ResponseField{
			Name: f.Name,
			Type: f.Type.BigQueryTypeName(),
		})
	}
	for i := 0; i < t.RowCount(); i++ {
		row := ResponseRow{F: make([]ResponseCell, t.NumColumns())}
		for c := 0; c < t.NumColumns(); c++ {
			row.F[c] = ResponseCell{V: cellValue(t.columns[c].GetValue(i))}
		}
		resp.Rows = append(resp.Rows, row)
	}
	return resp
}

// MarshalResponse 序列化响应
func (t *Table) MarshalResponse() ([]byte, error) {
	return json.Marshal(t.ToQueryResponse())
}

// cellValue BigQuery单元格编码：数值走字符串，NULL为nil，
// 数组为{"v":...}列表，结构体为{"f":[...]}
func cellValue(v basic.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Type() {
	case basic.TypeBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case basic.TypeArray:
		a, _ := v.AsArray()
		items := make([]map[string]interface{}, len(a.Items))
		for i, it := range a.Items {
			items[i] = map[string]interface{}{"v": cellValue(it)}
		}
		return items
	case basic.TypeStruct:
		s, _ := v.AsStruct()
		fields := make([]map[string]interface{}, len(s.Fields))
		for i, f := range s.Fields {
			fields[i] = map[string]interface{}{"v": cellValue(f.Val)}
		}
		return map[string]interface{}{"f": fields}
	default:
		return v.String()
	}
}
