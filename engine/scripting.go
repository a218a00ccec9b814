package engine

import (
	"github.com/juju/errors"

	"github.com/zhukovaskychina/yachtsql/basic"
	"github.com/zhukovaskychina/yachtsql/metadata"
	"github.com/zhukovaskychina/yachtsql/plan"
	"github.com/zhukovaskychina/yachtsql/sqlparser"
)

// 控制流信号
type controlSignal int

const (
	signalNone controlSignal = iota
	signalBreak
	signalContinue
	signalReturn
)

// execScript 脚本语句解释：内部语句执行期逐条规划。
// 结果为最后一条返回非nil表的语句的表（该表可为零行）
func (ex *Executor) execScript(l *plan.LogicalScript) (*metadata.Table, error) {
	result, sig, err := ex.runScriptStmt(l.Stmt)
	if err != nil {
		return nil, err
	}
	_ = sig
	if result == nil {
		result = emptyResult()
	}
	return result, nil
}

func (ex *Executor) runScriptBody(stmts []sqlparser.Statement) (*metadata.Table, controlSignal, error) {
	var last *metadata.Table
	for _, stmt := range stmts {
		t, sig, err := ex.runScriptStmt(stmt)
		if err != nil {
			return nil, signalNone, err
		}
		if t != nil {
			last = t
		}
		if sig != signalNone {
			return last, sig, nil
		}
	}
	return last, signalNone, nil
}

func (ex *Executor) runScriptStmt(stmt sqlparser.Statement) (*metadata.Table, controlSignal, error) {
	if err := ex.ctx.Err(); err != nil {
		return nil, signalNone, errors.Trace(err)
	}
	switch x := stmt.(type) {
	case *sqlparser.BlockStmt:
		ex.session.pushVariableScope()
		t, sig, err := ex.runScriptBody(x.Body)
		ex.session.popVariableScope()
		if err != nil && x.Handler != nil && basic.IsCatchable(err) {
			// EXCEPTION WHEN ERROR THEN：错误消息入隐式变量
			ex.session.pushVariableScope()
			ex.session.declareVariable("@@error.message", basic.NewString(err.Error()))
			ht, hsig, herr := ex.runScriptBody(x.Handler)
			ex.session.popVariableScope()
			return ht, hsig, herr
		}
		return t, sig, err

	case *sqlparser.IfStmt:
		cond, err := ex.scriptCondition(x.Cond)
		if err != nil {
			return nil, signalNone, err
		}
		if cond {
			return ex.runScriptBody(x.Then)
		}
		for _, arm := range x.Elifs {
			c, err := ex.scriptCondition(arm.Cond)
			if err != nil {
				return nil, signalNone, err
			}
			if c {
				return ex.runScriptBody(arm.Then)
			}
		}
		if x.Else != nil {
			return ex.runScriptBody(x.Else)
		}
		return nil, signalNone, nil

	case *sqlparser.WhileStmt:
		var last *metadata.Table
		for iter := 0; ; iter++ {
			if iter >= maxScriptIterations {
				return nil, signalNone, basic.Internal("WHILE loop exceeded %d iterations", maxScriptIterations)
			}
			cond, err := ex.scriptCondition(x.Cond)
			if err != nil {
				return nil, signalNone, err
			}
			if !cond {
				return last, signalNone, nil
			}
			t, sig, err := ex.runScriptBody(x.Body)
			if err != nil {
				return nil, signalNone, err
			}
			if t != nil {
				last = t
			}
			if sig == signalBreak {
				return last, signalNone, nil
			}
			if sig == signalReturn {
				return last, sig, nil
			}
		}

	case *sqlparser.LoopStmt:
		var last *metadata.Table
		for iter := 0; ; iter++ {
			if iter >= maxScriptIterations {
				return nil, signalNone, basic.Internal("LOOP exceeded %d iterations", maxScriptIterations)
			}
			t, sig, err := ex.runScriptBody(x.Body)
			if err != nil {
				return nil, signalNone, err
			}
			if t != nil {
				last = t
			}
			if sig == signalBreak {
				return last, signalNone, nil
			}
			if sig == signalReturn {
				return last, sig, nil
			}
		}

	case *sqlparser.RepeatStmt:
		var last *metadata.Table
		for iter := 0; ; iter++ {
			if iter >= maxScriptIterations {
				return nil, signalNone, basic.Internal("REPEAT exceeded %d iterations", maxScriptIterations)
			}
			t, sig, err := ex.runScriptBody(x.Body)
			if err != nil {
				return nil, signalNone, err
			}
			if t != nil {
				last = t
			}
			if sig == signalBreak {
				return last, signalNone, nil
			}
			if sig == signalReturn {
				return last, sig, nil
			}
			done, err := ex.scriptCondition(x.Cond)
			if err != nil {
				return nil, signalNone, err
			}
			if done {
				return last, signalNone, nil
			}
		}

	case *sqlparser.ForStmt:
		rows, err := ex.runNestedStatement(x.Query)
		if err != nil {
			return nil, signalNone, err
		}
		var last *metadata.Table
		for i := 0; i < rows.RowCount(); i++ {
			// 行变量绑定为STRUCT
			sv := basic.StructValue{}
			for c := 0; c < rows.NumColumns(); c++ {
				sv.Fields = append(sv.Fields, basic.StructField{
					Name: rows.Schema().Fields[c].Name,
					Val:  rows.Column(c).GetValue(i),
				})
			}
			ex.session.pushVariableScope()
			ex.session.declareVariable(x.Var, basic.NewStruct(sv))
			t, sig, err := ex.runScriptBody(x.Body)
			ex.session.popVariableScope()
			if err != nil {
				return nil, signalNone, err
			}
			if t != nil {
				last = t
			}
			if sig == signalBreak {
				return last, signalNone, nil
			}
			if sig == signalReturn {
				return last, sig, nil
			}
		}
		return last, signalNone, nil

	case *sqlparser.DeclareStmt:
		var init basic.Value
		if x.Default != nil {
			v, err := ex.scriptExprValue(x.Default)
			if err != nil {
				return nil, signalNone, err
			}
			init = v
		} else if x.Type != nil {
			t, _ := basic.TypeFromName(x.Type.Name)
			init = basic.TypedNull(t)
		} else {
			init = basic.NullValue()
		}
		for _, name := range x.Names {
			ex.session.declareVariable(name, init)
		}
		return nil, signalNone, nil

	case *sqlparser.SetStmt:
		v, err := ex.scriptExprValue(x.Value)
		if err != nil {
			return nil, signalNone, err
		}
		ex.session.setVariable(x.Name, v)
		return nil, signalNone, nil

	case *sqlparser.ReturnStmt:
		return nil, signalReturn, nil

	case *sqlparser.BreakStmt:
		return nil, signalBreak, nil

	case *sqlparser.ContinueStmt:
		return nil, signalContinue, nil

	case *sqlparser.RaiseStmt:
		msg := "raised exception"
		if x.Message != nil {
			v, err := ex.scriptExprValue(x.Message)
			if err != nil {
				return nil, signalNone, err
			}
			if s, ok := v.AsString(); ok {
				msg = s
			}
		}
		return nil, signalNone, basic.RaisedException(msg)

	case *sqlparser.AssertStmt:
		ok, err := ex.scriptCondition(x.Cond)
		if err != nil {
			return nil, signalNone, err
		}
		if !ok {
			msg := "assertion failed"
			if x.Message != nil {
				if v, err := ex.scriptExprValue(x.Message); err == nil {
					if s, ok := v.AsString(); ok {
						msg = s
					}
				}
			}
			return nil, signalNone, basic.RaisedException(msg)
		}
		return nil, signalNone, nil

	case *sqlparser.CallStmt:
		return ex.runCall(x)

	case *sqlparser.ExecuteImmediateStmt:
		v, err := ex.scriptExprValue(x.SQL)
		if err != nil {
			return nil, signalNone, err
		}
		sql, ok := v.AsString()
		if !ok {
			return nil, signalNone, basic.TypeMismatch("STRING", v.Type().String())
		}
		stmt, err := sqlparser.ParseOne(plan.NormalizeSQL(sql))
		if err != nil {
			return nil, signalNone, errors.Trace(err)
		}
		t, sig, err := ex.runScriptStmt(stmt)
		return t, sig, err

	default:
		// 普通语句：规划后嵌套执行
		t, err := ex.runNestedStatement(stmt)
		if err != nil {
			return nil, signalNone, err
		}
		return t, signalNone, nil
	}
}

// maxScriptIterations 脚本循环上限，防失控
const maxScriptIterations = 1000000

// runNestedStatement 脚本内语句：规划→优化→执行（共享守卫）
func (ex *Executor) runNestedStatement(stmt sqlparser.Statement) (*metadata.Table, error) {
	builder := ex.newBuilder()
	logical, err := builder.BuildStatement(stmt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return ex.runSubqueryPlan(logical)
}

func (ex *Executor) runCall(x *sqlparser.CallStmt) (*metadata.Table, controlSignal, error) {
	proc, ok := ex.catalog.Procedure(x.Name)
	if !ok {
		return nil, signalNone, basic.FunctionNotFound(x.Name)
	}
	ex.session.pushVariableScope()
	defer ex.session.popVariableScope()
	for i, p := range proc.Params {
		var v basic.Value
		if i < len(x.Args) {
			var err error
			v, err = ex.scriptExprValue(x.Args[i])
			if err != nil {
				return nil, signalNone, err
			}
		} else {
			v = basic.NullValue()
		}
		ex.session.declareVariable(p.Name, v)
	}
	t, _, err := ex.runScriptStmt(proc.Body)
	return t, signalNone, err
}

// scriptExprValue 脚本内表达式求值（可引用变量与子查询）
func (ex *Executor) scriptExprValue(e sqlparser.Expr) (basic.Value, error) {
	builder := ex.newBuilder()
	pe, err := builder.BuildScalarExpr(e, nil)
	if err != nil {
		return basic.Value{}, errors.Trace(err)
	}
	ev := ex.newEvaluator()
	return ev.EvalRow(pe, nil, nil)
}

func (ex *Executor) scriptCondition(e sqlparser.Expr) (bool, error) {
	v, err := ex.scriptExprValue(e)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	return ok && b, nil
}
