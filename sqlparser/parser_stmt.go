package sqlparser

import (
	"strings"
)

// parseStatement dispatches on the leading keyword.
func (p *Parser) parseStatement() (Statement, error) {
	t := p.cur()
	if t.Type == TokenLParen {
		return p.parseQueryStmt()
	}
	if t.Type != TokenKeyword && t.Type != TokenIdent {
		return nil, p.errorf("expected statement, got %q", t.Text)
	}
	switch t.Keyword() {
	case "SELECT", "WITH":
		return p.parseQueryStmt()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "MERGE":
		return p.parseMerge()
	case "TRUNCATE":
		p.advance()
		if err := p.expectKeyword("TABLE"); err != nil {
			return nil, err
		}
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &TruncateStmt{Table: name}, nil
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "EXPLAIN":
		p.advance()
		inner, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ExplainStmt{Inner: inner}, nil
	case "BEGIN":
		return p.parseBlock()
	case "IF":
		return p.parseIf()
	case "WHILE":
		return p.parseWhile()
	case "LOOP":
		p.advance()
		body, err := p.parseStatementList("END")
		if err != nil {
			return nil, err
		}
		if err := p.expectEnd("LOOP"); err != nil {
			return nil, err
		}
		return &LoopStmt{Body: body}, nil
	case "REPEAT":
		return p.parseRepeat()
	case "FOR":
		return p.parseFor()
	case "DECLARE":
		return p.parseDeclare()
	case "SET":
		return p.parseSet()
	case "RETURN":
		p.advance()
		return &ReturnStmt{}, nil
	case "RAISE":
		p.advance()
		r := &RaiseStmt{}
		if p.matchKeyword("USING") {
			if _, err := p.parseIdent("MESSAGE"); err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenEq, "'='"); err != nil {
				return nil, err
			}
			msg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			r.Message = msg
		}
		return r, nil
	case "CALL":
		p.advance()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		call := &CallStmt{Name: name}
		if p.match(TokenLParen) {
			if !p.at(TokenRParen) {
				for {
					e, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					call.Args = append(call.Args, e)
					if !p.match(TokenComma) {
						break
					}
				}
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
		}
		return call, nil
	case "BREAK", "LEAVE":
		p.advance()
		return &BreakStmt{}, nil
	case "CONTINUE", "ITERATE":
		p.advance()
		return &ContinueStmt{}, nil
	case "ASSERT":
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		a := &AssertStmt{Cond: cond}
		if p.matchKeyword("AS") {
			msg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			a.Message = msg
		}
		return a, nil
	case "EXECUTE":
		p.advance()
		if err := p.expectKeyword("IMMEDIATE"); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ExecuteImmediateStmt{SQL: e}, nil
	}
	return nil, p.errorf("unsupported statement start %q", t.Text)
}

// ---- DML ----

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	p.matchKeyword("INTO")
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	ins := &InsertStmt{Table: name}
	if p.at(TokenLParen) {
		// column list or SELECT source
		save := p.pos
		p.advance()
		if p.peekKeyword("SELECT", "WITH") {
			p.pos = save
		} else {
			for {
				col, err := p.parseIdent("column name")
				if err != nil {
					return nil, err
				}
				ins.Columns = append(ins.Columns, col)
				if !p.match(TokenComma) {
					break
				}
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
		}
	}
	if p.matchKeyword("VALUES") {
		for {
			if _, err := p.expect(TokenLParen, "'('"); err != nil {
				return nil, err
			}
			var row []Expr
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				row = append(row, e)
				if !p.match(TokenComma) {
					break
				}
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			ins.Rows = append(ins.Rows, row)
			if !p.match(TokenComma) {
				break
			}
		}
		return ins, nil
	}
	q, err := p.parseQueryStmt()
	if err != nil {
		return nil, err
	}
	ins.Query = q
	return ins, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	upd := &UpdateStmt{Table: name}
	if p.matchKeyword("AS") {
		upd.Alias, err = p.parseIdent("alias")
		if err != nil {
			return nil, err
		}
	} else if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && !p.peekKeyword("SET") {
		upd.Alias = p.advance().Text
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseIdent("column name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEq, "'='"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Assignments = append(upd.Assignments, Assignment{Column: col, Value: val})
		if !p.match(TokenComma) {
			break
		}
	}
	if p.matchKeyword("FROM") {
		from, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		upd.From = from
	}
	if p.matchKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		upd.Where = e
	}
	return upd, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	p.matchKeyword("FROM")
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	del := &DeleteStmt{Table: name}
	if p.matchKeyword("AS") {
		del.Alias, err = p.parseIdent("alias")
		if err != nil {
			return nil, err
		}
	} else if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && !p.peekKeyword("WHERE") {
		del.Alias = p.advance().Text
	}
	if p.matchKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		del.Where = e
	}
	return del, nil
}

func (p *Parser) parseMerge() (Statement, error) {
	p.advance() // MERGE
	p.matchKeyword("INTO")
	target, err := p.parseName()
	if err != nil {
		return nil, err
	}
	m := &MergeStmt{Target: target}
	if p.matchKeyword("AS") {
		m.TargetAlias, err = p.parseIdent("alias")
		if err != nil {
			return nil, err
		}
	} else if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && !p.peekKeyword("USING") {
		m.TargetAlias = p.advance().Text
	}
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	src, err := p.parseTablePrimary()
	if err != nil {
		return nil, err
	}
	m.Source = src
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	m.On, err = p.parseExpr()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("WHEN") {
		clause := MergeClause{}
		if p.matchKeyword("MATCHED") {
			clause.Matched = true
		} else {
			if err := p.expectKeyword("NOT"); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("MATCHED"); err != nil {
				return nil, err
			}
			if p.matchKeyword("BY") {
				if p.matchKeyword("SOURCE") {
					clause.BySource = true
				} else if err := p.expectKeyword("TARGET"); err != nil {
					return nil, err
				}
			}
		}
		if p.matchKeyword("AND") {
			cond, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			clause.Condition = cond
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		switch {
		case p.matchKeyword("UPDATE"):
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			clause.Action = "UPDATE"
			for {
				col, err := p.parseIdent("column name")
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(TokenEq, "'='"); err != nil {
					return nil, err
				}
				val, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				clause.Assignments = append(clause.Assignments, Assignment{Column: col, Value: val})
				if !p.match(TokenComma) {
					break
				}
			}
		case p.matchKeyword("DELETE"):
			clause.Action = "DELETE"
		case p.matchKeyword("INSERT"):
			clause.Action = "INSERT"
			if p.matchKeyword("ROW") {
				break
			}
			if p.at(TokenLParen) {
				p.advance()
				for {
					col, err := p.parseIdent("column name")
					if err != nil {
						return nil, err
					}
					clause.InsertCols = append(clause.InsertCols, col)
					if !p.match(TokenComma) {
						break
					}
				}
				if _, err := p.expect(TokenRParen, "')'"); err != nil {
					return nil, err
				}
			}
			if p.matchKeyword("VALUES") {
				if _, err := p.expect(TokenLParen, "'('"); err != nil {
					return nil, err
				}
				for {
					e, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					clause.InsertVals = append(clause.InsertVals, e)
					if !p.match(TokenComma) {
						break
					}
				}
				if _, err := p.expect(TokenRParen, "')'"); err != nil {
					return nil, err
				}
			}
		default:
			return nil, p.errorf("expected UPDATE, DELETE or INSERT in MERGE clause")
		}
		m.Clauses = append(m.Clauses, clause)
	}
	return m, nil
}

// ---- DDL ----

func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE
	orReplace := false
	if p.matchKeyword("OR") {
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		orReplace = true
	}
	temp := p.matchKeyword("TEMP") || p.matchKeyword("TEMPORARY")
	switch {
	case p.matchKeyword("SNAPSHOT"):
		if err := p.expectKeyword("TABLE"); err != nil {
			return nil, err
		}
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("CLONE"); err != nil {
			return nil, err
		}
		src, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &CreateSnapshotStmt{Name: name, Source: src}, nil
	case p.matchKeyword("TABLE"):
		return p.parseCreateTable(orReplace, temp)
	case p.matchKeyword("VIEW"):
		return p.parseCreateView(orReplace)
	case p.matchKeyword("FUNCTION"):
		return p.parseCreateFunction(orReplace, temp, false)
	case p.matchKeyword("AGGREGATE"):
		if err := p.expectKeyword("FUNCTION"); err != nil {
			return nil, err
		}
		return p.parseCreateFunction(orReplace, temp, true)
	case p.matchKeyword("PROCEDURE"):
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		params, err := p.parseParamList()
		if err != nil {
			return nil, err
		}
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &CreateProcedureStmt{Name: name, Params: params, Body: block.(*BlockStmt), OrReplace: orReplace}, nil
	case p.matchKeyword("SCHEMA"):
		ifNot, err := p.parseIfNotExists()
		if err != nil {
			return nil, err
		}
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &CreateSchemaStmt{Name: name, IfNotExists: ifNot}, nil
	}
	return nil, p.errorf("unsupported CREATE target %q", p.cur().Text)
}

func (p *Parser) parseIfNotExists() (bool, error) {
	if p.matchKeyword("IF") {
		if err := p.expectKeyword("NOT"); err != nil {
			return false, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) parseCreateTable(orReplace, temp bool) (Statement, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	ct := &CreateTableStmt{Name: name, OrReplace: orReplace, IfNotExists: ifNot, Temp: temp}
	if p.at(TokenLParen) {
		p.advance()
		for {
			col, err := p.parseIdent("column name")
			if err != nil {
				return nil, err
			}
			typ, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			def := ColumnDef{Name: col, Type: *typ}
			for {
				if p.matchKeyword("NOT") {
					if err := p.expectKeyword("NULL"); err != nil {
						return nil, err
					}
					def.NotNull = true
					continue
				}
				if p.matchKeyword("DEFAULT") {
					e, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					def.Default = e
					continue
				}
				break
			}
			ct.Columns = append(ct.Columns, def)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("AS") {
		q, err := p.parseQueryStmt()
		if err != nil {
			return nil, err
		}
		ct.AsQuery = q
	}
	return ct, nil
}

func (p *Parser) parseCreateView(orReplace bool) (Statement, error) {
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	cv := &CreateViewStmt{Name: name, OrReplace: orReplace}
	if p.at(TokenLParen) {
		p.advance()
		for {
			alias, err := p.parseIdent("column alias")
			if err != nil {
				return nil, err
			}
			cv.Aliases = append(cv.Aliases, alias)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	startTok := p.cur().Pos
	q, err := p.parseQueryStmt()
	if err != nil {
		return nil, err
	}
	endTok := p.cur().Pos
	cv.Query = q
	cv.QueryText = p.sliceText(startTok, endTok)
	return cv, nil
}

// sliceText recovers the original text between two byte offsets. The parser
// keeps no copy of the input, so positions come from the token stream.
func (p *Parser) sliceText(start, end int) string {
	if len(p.tokens) == 0 {
		return ""
	}
	// reconstruct from tokens in range; adequate for view re-planning
	var sb strings.Builder
	for _, t := range p.tokens {
		if t.Pos < start || t.Pos >= end || t.Type == TokenEOF {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		switch t.Type {
		case TokenStringLit:
			sb.WriteString("'" + strings.ReplaceAll(t.Text, "'", "\\'") + "'")
		case TokenQuotedIdent:
			sb.WriteString("`" + t.Text + "`")
		default:
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func (p *Parser) parseParamList() ([]FunctionParam, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	var params []FunctionParam
	if p.match(TokenRParen) {
		return params, nil
	}
	for {
		name, err := p.parseIdent("parameter name")
		if err != nil {
			return nil, err
		}
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		params = append(params, FunctionParam{Name: name, Type: *typ})
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseCreateFunction(orReplace, temp, aggregate bool) (Statement, error) {
	ifNot, err := p.parseIfNotExists()
	if err != nil {
		return nil, err
	}
	_ = ifNot
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	cf := &CreateFunctionStmt{Name: name, OrReplace: orReplace, Temp: temp, IsAggregate: aggregate}
	cf.Params, err = p.parseParamList()
	if err != nil {
		return nil, err
	}
	if p.matchKeyword("RETURNS") {
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		cf.Returns = typ
	}
	if p.matchKeyword("LANGUAGE") {
		lang, err := p.parseIdent("language name")
		if err != nil {
			return nil, err
		}
		cf.Language = strings.ToLower(lang)
		if err := p.expectKeyword("AS"); err != nil {
			return nil, err
		}
		code, err := p.expect(TokenStringLit, "function body string")
		if err != nil {
			return nil, err
		}
		cf.Code = code.Text
		return cf, nil
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	if p.peekKeyword("SELECT", "WITH") {
		q, err := p.parseQueryStmt()
		if err != nil {
			return nil, err
		}
		cf.BodyQuery = q
	} else {
		body, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		cf.Body = body
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return cf, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance() // DROP
	parseIfExists := func() bool {
		if p.matchKeyword("IF") {
			p.matchKeyword("EXISTS")
			return true
		}
		return false
	}
	switch {
	case p.matchKeyword("SNAPSHOT"):
		if err := p.expectKeyword("TABLE"); err != nil {
			return nil, err
		}
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropSnapshotStmt{Name: name, IfExists: ifExists}, nil
	case p.matchKeyword("TABLE"):
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropTableStmt{Name: name, IfExists: ifExists}, nil
	case p.matchKeyword("VIEW"):
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropViewStmt{Name: name, IfExists: ifExists}, nil
	case p.matchKeyword("FUNCTION"):
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropFunctionStmt{Name: name, IfExists: ifExists}, nil
	case p.matchKeyword("PROCEDURE"):
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropProcedureStmt{Name: name, IfExists: ifExists}, nil
	case p.matchKeyword("SCHEMA"):
		ifExists := parseIfExists()
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		return &DropSchemaStmt{Name: name, IfExists: ifExists}, nil
	}
	return nil, p.errorf("unsupported DROP target %q", p.cur().Text)
}

// ---- scripting ----

// parseStatementList parses statements until one of the stop keywords is
// the lookahead (the stop token itself is not consumed).
func (p *Parser) parseStatementList(stops ...string) ([]Statement, error) {
	var stmts []Statement
	for {
		for p.match(TokenSemicolon) {
		}
		if p.at(TokenEOF) || p.peekKeyword(stops...) {
			return stmts, nil
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.match(TokenSemicolon) {
			for p.match(TokenSemicolon) {
			}
			if p.at(TokenEOF) || p.peekKeyword(stops...) {
				return stmts, nil
			}
			return nil, p.errorf("expected ';' between statements, got %q", p.cur().Text)
		}
	}
}

// expectEnd consumes END [word].
func (p *Parser) expectEnd(word string) error {
	if err := p.expectKeyword("END"); err != nil {
		return err
	}
	p.matchKeyword(word)
	return nil
}

func (p *Parser) parseBlock() (Statement, error) {
	p.advance() // BEGIN
	body, err := p.parseStatementList("END", "EXCEPTION")
	if err != nil {
		return nil, err
	}
	block := &BlockStmt{Body: body}
	if p.matchKeyword("EXCEPTION") {
		if err := p.expectKeyword("WHEN"); err != nil {
			return nil, err
		}
		if _, err := p.parseIdent("ERROR"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		handler, err := p.parseStatementList("END")
		if err != nil {
			return nil, err
		}
		block.Handler = handler
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return block, nil
}

func (p *Parser) parseIf() (Statement, error) {
	p.advance() // IF
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("THEN"); err != nil {
		return nil, err
	}
	then, err := p.parseStatementList("ELSEIF", "ELSE", "END")
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{Cond: cond, Then: then}
	for p.matchKeyword("ELSEIF") {
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		body, err := p.parseStatementList("ELSEIF", "ELSE", "END")
		if err != nil {
			return nil, err
		}
		stmt.Elifs = append(stmt.Elifs, IfElif{Cond: c, Then: body})
	}
	if p.matchKeyword("ELSE") {
		body, err := p.parseStatementList("END")
		if err != nil {
			return nil, err
		}
		stmt.Else = body
	}
	if err := p.expectEnd("IF"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseWhile() (Statement, error) {
	p.advance() // WHILE
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("DO"); err != nil {
		return nil, err
	}
	body, err := p.parseStatementList("END")
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd("WHILE"); err != nil {
		return nil, err
	}
	return &WhileStmt{Cond: cond, Body: body}, nil
}

func (p *Parser) parseRepeat() (Statement, error) {
	p.advance() // REPEAT
	body, err := p.parseStatementList("UNTIL")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("UNTIL"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd("REPEAT"); err != nil {
		return nil, err
	}
	return &RepeatStmt{Body: body, Cond: cond}, nil
}

func (p *Parser) parseFor() (Statement, error) {
	p.advance() // FOR
	name, err := p.parseIdent("loop variable")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	q, err := p.parseQueryStmt()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("DO"); err != nil {
		return nil, err
	}
	body, err := p.parseStatementList("END")
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd("FOR"); err != nil {
		return nil, err
	}
	return &ForStmt{Var: name, Query: q, Body: body}, nil
}

func (p *Parser) parseDeclare() (Statement, error) {
	p.advance() // DECLARE
	d := &DeclareStmt{}
	for {
		name, err := p.parseIdent("variable name")
		if err != nil {
			return nil, err
		}
		d.Names = append(d.Names, name)
		if !p.match(TokenComma) {
			break
		}
	}
	if !p.peekKeyword("DEFAULT") && !p.at(TokenSemicolon) && !p.at(TokenEOF) {
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		d.Type = typ
	}
	if p.matchKeyword("DEFAULT") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.Default = e
	}
	return d, nil
}

func (p *Parser) parseSet() (Statement, error) {
	p.advance() // SET
	name, err := p.parseIdent("variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenEq, "'='"); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &SetStmt{Name: name, Value: val}, nil
}
