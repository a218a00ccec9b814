package sqlparser

import (
	"strings"

	"github.com/zhukovaskychina/yachtsql/basic"
)

// Parser is a hand-written recursive-descent parser with at most
// two tokens of lookahead over the BigQuery dialect surface the engine executes.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a script: one or more semicolon-separated
// statements.
func Parse(sql string) ([]Statement, error) {
	tokens, err := NewLexer(sql).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	var stmts []Statement
	for {
		for p.match(TokenSemicolon) {
		}
		if p.at(TokenEOF) {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		if !p.match(TokenSemicolon) && !p.at(TokenEOF) {
			return nil, p.errorf("expected ';' or end of input, got %q", p.cur().Text)
		}
	}
	if len(stmts) == 0 {
		return nil, basic.ParseError("empty statement")
	}
	return stmts, nil
}

// ParseOne parses the input as one statement; several statements are
// returned wrapped in an implicit BlockStmt.
func ParseOne(sql string) (Statement, error) {
	stmts, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		// multi-statement input becomes an implicit block
		return &BlockStmt{Body: stmts}, nil
	}
	return stmts[0], nil
}

// ParseExpr parses a standalone expression (SQL function bodies).
func ParseExpr(sql string) (Expr, error) {
	tokens, err := NewLexer(sql).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(TokenEOF) {
		return nil, p.errorf("unexpected trailing input %q", p.cur().Text)
	}
	return e, nil
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) at(t TokenType) bool { return p.cur().Type == t }

func (p *Parser) peekKeyword(words ...string) bool {
	t := p.cur()
	if t.Type != TokenKeyword && t.Type != TokenIdent {
		return false
	}
	kw := t.Keyword()
	for _, w := range words {
		if kw == w {
			return true
		}
	}
	return false
}

// peekKeyword2 looks at the token after the current one.
func (p *Parser) peekKeyword2(word string) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	t := p.tokens[p.pos+1]
	return (t.Type == TokenKeyword || t.Type == TokenIdent) && t.Keyword() == word
}

func (p *Parser) advance() Token {
	t := p.cur()
	if t.Type != TokenEOF {
		p.pos++
	}
	return t
}

func (p *Parser) match(t TokenType) bool {
	if p.at(t) {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) matchKeyword(words ...string) bool {
	if p.peekKeyword(words...) {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expect(t TokenType, what string) (Token, error) {
	if !p.at(t) {
		return Token{}, p.errorf("expected %s, got %q", what, p.cur().Text)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(word string) error {
	if !p.matchKeyword(word) {
		return p.errorf("expected %s, got %q", word, p.cur().Text)
	}
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return basic.ParseError(format+" (at offset %d)", append(args, p.cur().Pos)...)
}

func (p *Parser) parseIdent(what string) (string, error) {
	t := p.cur()
	if t.Type == TokenIdent || t.Type == TokenQuotedIdent || t.Type == TokenKeyword {
		p.pos++
		return t.Text, nil
	}
	return "", p.errorf("expected %s, got %q", what, t.Text)
}

// parseName parses a possibly dotted object name; dataset qualifiers are
// flattened into a single dotted string.
func (p *Parser) parseName() (string, error) {
	part, err := p.parseIdent("name")
	if err != nil {
		return "", err
	}
	name := part
	for p.match(TokenDot) {
		part, err = p.parseIdent("name")
		if err != nil {
			return "", err
		}
		name += "." + part
	}
	return name, nil
}

// ---- query expressions ----

func (p *Parser) parseQueryStmt() (*QueryStmt, error) {
	q := &QueryStmt{}
	if p.peekKeyword("WITH") {
		with, err := p.parseWithClause()
		if err != nil {
			return nil, err
		}
		q.With = with
	}
	body, err := p.parseQueryBody()
	if err != nil {
		return nil, err
	}
	q.Body = body
	if p.matchKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		q.OrderBy = items
	}
	if p.matchKeyword("LIMIT") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.Limit = e
		if p.matchKeyword("OFFSET") {
			o, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			q.Offset = o
		}
	}
	return q, nil
}

func (p *Parser) parseWithClause() (*WithClause, error) {
	if err := p.expectKeyword("WITH"); err != nil {
		return nil, err
	}
	w := &WithClause{Recursive: p.matchKeyword("RECURSIVE")}
	for {
		name, err := p.parseIdent("CTE name")
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AS"); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		sub, err := p.parseQueryStmt()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		w.CTEs = append(w.CTEs, CTE{Name: name, Query: sub})
		if !p.match(TokenComma) {
			break
		}
	}
	return w, nil
}

// parseQueryBody handles UNION/INTERSECT/EXCEPT with left associativity;
// INTERSECT binds tighter than UNION/EXCEPT.
func (p *Parser) parseQueryBody() (QueryBody, error) {
	left, err := p.parseQueryTerm()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("UNION", "EXCEPT") {
		op := p.advance().Keyword()
		all, err := p.parseSetQuantifier()
		if err != nil {
			return nil, err
		}
		right, err := p.parseQueryTerm()
		if err != nil {
			return nil, err
		}
		left = &SetOpBody{Op: op, All: all, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseQueryTerm() (QueryBody, error) {
	left, err := p.parseQueryPrimary()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("INTERSECT") {
		p.advance()
		all, err := p.parseSetQuantifier()
		if err != nil {
			return nil, err
		}
		right, err := p.parseQueryPrimary()
		if err != nil {
			return nil, err
		}
		left = &SetOpBody{Op: "INTERSECT", All: all, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseSetQuantifier() (bool, error) {
	if p.matchKeyword("ALL") {
		return true, nil
	}
	p.matchKeyword("DISTINCT")
	return false, nil
}

func (p *Parser) parseQueryPrimary() (QueryBody, error) {
	if p.match(TokenLParen) {
		sub, err := p.parseQueryStmt()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return &SubqueryBody{Query: sub}, nil
	}
	return p.parseSelectCore()
}

func (p *Parser) parseSelectCore() (*SelectCore, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	core := &SelectCore{}
	if p.matchKeyword("DISTINCT") {
		core.Distinct = true
	} else {
		p.matchKeyword("ALL")
	}
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		core.Items = append(core.Items, item)
		if !p.match(TokenComma) {
			break
		}
	}
	if p.matchKeyword("FROM") {
		from, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		core.From = from
	}
	if p.matchKeyword("WHERE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Where = e
	}
	if p.matchKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		gb, err := p.parseGroupBy()
		if err != nil {
			return nil, err
		}
		core.GroupBy = gb
	}
	if p.matchKeyword("HAVING") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Having = e
	}
	if p.matchKeyword("QUALIFY") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Qualify = e
	}
	if p.matchKeyword("WINDOW") {
		for {
			name, err := p.parseIdent("window name")
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			spec, err := p.parseWindowSpecParens()
			if err != nil {
				return nil, err
			}
			core.Windows = append(core.Windows, NamedWindow{Name: name, Spec: spec})
			if !p.match(TokenComma) {
				break
			}
		}
	}
	return core, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.match(TokenStar) {
		return p.parseStarModifiers("")
	}
	// t.* form
	if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && p.pos+2 < len(p.tokens) &&
		p.tokens[p.pos+1].Type == TokenDot && p.tokens[p.pos+2].Type == TokenStar {
		qual := p.advance().Text
		p.advance() // .
		p.advance() // *
		return p.parseStarModifiers(qual)
	}
	e, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.matchKeyword("AS") {
		alias, err := p.parseIdent("alias")
		if err != nil {
			return SelectItem{}, err
		}
		item.Alias = alias
	} else if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
		item.Alias = p.advance().Text
	}
	return item, nil
}

func (p *Parser) parseStarModifiers(qual string) (SelectItem, error) {
	item := SelectItem{Star: true, StarFrom: qual}
	if p.matchKeyword("EXCEPT") {
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return SelectItem{}, err
		}
		for {
			name, err := p.parseIdent("column name")
			if err != nil {
				return SelectItem{}, err
			}
			item.ExceptCol = append(item.ExceptCol, name)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return SelectItem{}, err
		}
	}
	return item, nil
}

func (p *Parser) parseGroupBy() (*GroupByClause, error) {
	gb := &GroupByClause{}
	if p.matchKeyword("GROUPING") {
		if err := p.expectKeyword("SETS"); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		for {
			var set []Expr
			if p.match(TokenLParen) {
				if !p.match(TokenRParen) {
					for {
						e, err := p.parseExpr()
						if err != nil {
							return nil, err
						}
						set = append(set, e)
						if !p.match(TokenComma) {
							break
						}
					}
					if _, err := p.expect(TokenRParen, "')'"); err != nil {
						return nil, err
					}
				}
			} else {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				set = append(set, e)
			}
			gb.GroupingSets = append(gb.GroupingSets, set)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return gb, nil
	}
	if p.matchKeyword("ROLLUP") {
		gb.Rollup = true
		var err error
		gb.Exprs, err = p.parseParenExprList()
		return gb, err
	}
	if p.matchKeyword("CUBE") {
		gb.Cube = true
		var err error
		gb.Exprs, err = p.parseParenExprList()
		return gb, err
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		gb.Exprs = append(gb.Exprs, e)
		if !p.match(TokenComma) {
			break
		}
	}
	return gb, nil
}

func (p *Parser) parseParenExprList() ([]Expr, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	var exprs []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return exprs, nil
}

func (p *Parser) parseOrderItems() ([]OrderItem, error) {
	var items []OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: e}
		if p.matchKeyword("DESC") {
			item.Desc = true
		} else {
			p.matchKeyword("ASC")
		}
		if p.matchKeyword("NULLS") {
			first := true
			if p.matchKeyword("LAST") {
				first = false
			} else if err := p.expectKeyword("FIRST"); err != nil {
				return nil, err
			}
			item.NullsFirst = &first
		}
		items = append(items, item)
		if !p.match(TokenComma) {
			break
		}
	}
	return items, nil
}

// ---- FROM clause ----

func (p *Parser) parseTableRef() (TableRef, error) {
	left, err := p.parseTablePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.match(TokenComma):
			right, err := p.parseTablePrimary()
			if err != nil {
				return nil, err
			}
			left = &JoinRef{Type: "CROSS", Left: left, Right: right}
		case p.peekKeyword("CROSS"):
			p.advance()
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			right, err := p.parseTablePrimary()
			if err != nil {
				return nil, err
			}
			left = &JoinRef{Type: "CROSS", Left: left, Right: right}
		case p.peekKeyword("JOIN", "INNER", "LEFT", "RIGHT", "FULL"):
			jt := "INNER"
			if !p.peekKeyword("JOIN") {
				jt = p.advance().Keyword()
				p.matchKeyword("OUTER")
			} else if p.peekKeyword("INNER") {
				p.advance()
			}
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			right, err := p.parseTablePrimary()
			if err != nil {
				return nil, err
			}
			join := &JoinRef{Type: jt, Left: left, Right: right}
			if p.matchKeyword("ON") {
				cond, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				join.On = cond
			} else if p.matchKeyword("USING") {
				if _, err := p.expect(TokenLParen, "'('"); err != nil {
					return nil, err
				}
				for {
					name, err := p.parseIdent("column name")
					if err != nil {
						return nil, err
					}
					join.Using = append(join.Using, name)
					if !p.match(TokenComma) {
						break
					}
				}
				if _, err := p.expect(TokenRParen, "')'"); err != nil {
					return nil, err
				}
			}
			left = join
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseTablePrimary() (TableRef, error) {
	if p.peekKeyword("UNNEST") {
		p.advance()
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		ref := &UnnestRef{Expr: e}
		if p.matchKeyword("AS") {
			ref.Alias, err = p.parseIdent("alias")
			if err != nil {
				return nil, err
			}
		} else if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
			ref.Alias = p.advance().Text
		}
		if p.matchKeyword("WITH") {
			if err := p.expectKeyword("OFFSET"); err != nil {
				return nil, err
			}
			ref.WithOffset = true
			if p.matchKeyword("AS") {
				ref.OffsetAlias, err = p.parseIdent("offset alias")
				if err != nil {
					return nil, err
				}
			} else if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
				ref.OffsetAlias = p.advance().Text
			}
		}
		return ref, nil
	}
	if p.match(TokenLParen) {
		// derived table or parenthesized join
		if p.peekKeyword("SELECT", "WITH") || p.at(TokenLParen) {
			sub, err := p.parseQueryStmt()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			ref := &SubqueryRef{Query: sub}
			if p.matchKeyword("AS") {
				ref.Alias, err = p.parseIdent("alias")
				if err != nil {
					return nil, err
				}
			} else if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
				ref.Alias = p.advance().Text
			}
			return ref, nil
		}
		inner, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	ref := &TableName{Name: name}
	if p.matchKeyword("AS") {
		ref.Alias, err = p.parseIdent("alias")
		if err != nil {
			return nil, err
		}
	} else if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && !p.peekKeyword("TABLESAMPLE") {
		ref.Alias = p.advance().Text
	}
	if p.matchKeyword("TABLESAMPLE") {
		method, err := p.parseIdent("sample method")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sc := &SampleClause{Method: strings.ToUpper(method), Arg: arg}
		if p.matchKeyword("ROWS") {
			sc.IsRows = true
		} else {
			p.matchKeyword("PERCENT")
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		ref.Sample = sc
	}
	return ref, nil
}

// ---- expressions ----

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.matchKeyword("NOT") {
		e, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Expr: e}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(TokenEq), p.at(TokenNeq), p.at(TokenLt), p.at(TokenLte), p.at(TokenGt), p.at(TokenGte):
			op := p.advance().Text
			if op == "<>" {
				op = "!="
			}
			right, err := p.parseBitOr()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}
		case p.peekKeyword("IS"):
			p.advance()
			not := p.matchKeyword("NOT")
			switch {
			case p.matchKeyword("NULL"):
				left = &IsExpr{Expr: left, What: "NULL", Not: not}
			case p.matchKeyword("TRUE"):
				left = &IsExpr{Expr: left, What: "TRUE", Not: not}
			case p.matchKeyword("FALSE"):
				left = &IsExpr{Expr: left, What: "FALSE", Not: not}
			case p.matchKeyword("DISTINCT"):
				if err := p.expectKeyword("FROM"); err != nil {
					return nil, err
				}
				other, err := p.parseBitOr()
				if err != nil {
					return nil, err
				}
				left = &IsExpr{Expr: left, What: "DISTINCT_FROM", Other: other, Not: not}
			default:
				return nil, p.errorf("expected NULL, TRUE, FALSE or DISTINCT after IS")
			}
		case p.peekKeyword("NOT") && (p.peekKeyword2("IN") || p.peekKeyword2("LIKE") || p.peekKeyword2("BETWEEN")):
			p.advance()
			e, err := p.parseInLikeBetween(left, true)
			if err != nil {
				return nil, err
			}
			left = e
		case p.peekKeyword("IN", "LIKE", "BETWEEN"):
			e, err := p.parseInLikeBetween(left, false)
			if err != nil {
				return nil, err
			}
			left = e
		default:
			return left, nil
		}
	}
}

func (p *Parser) parseInLikeBetween(left Expr, not bool) (Expr, error) {
	switch {
	case p.matchKeyword("IN"):
		if p.matchKeyword("UNNEST") {
			if _, err := p.expect(TokenLParen, "'('"); err != nil {
				return nil, err
			}
			arr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			return &InExpr{Expr: left, Unnest: arr, Not: not}, nil
		}
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		if p.peekKeyword("SELECT", "WITH") {
			sub, err := p.parseQueryStmt()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			return &InExpr{Expr: left, Subquery: sub, Not: not}, nil
		}
		var list []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return &InExpr{Expr: left, List: list, Not: not}, nil
	case p.matchKeyword("LIKE"):
		pat, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Expr: left, Pattern: pat, Not: not}, nil
	case p.matchKeyword("BETWEEN"):
		lo, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Expr: left, Lo: lo, Hi: hi, Not: not}, nil
	}
	return nil, p.errorf("expected IN, LIKE or BETWEEN")
}

func (p *Parser) parseBitOr() (Expr, error) {
	left, err := p.parseBitAnd()
	if err != nil {
		return nil, err
	}
	for p.at(TokenBitOr) || p.at(TokenBitXor) {
		op := p.advance().Text
		right, err := p.parseBitAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseBitAnd() (Expr, error) {
	left, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for p.at(TokenBitAnd) {
		p.advance()
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "&", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseShift() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.at(TokenShiftLeft) || p.at(TokenShiftRight) {
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(TokenPlus) || p.at(TokenMinus) || p.at(TokenConcat) {
		op := p.advance().Text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(TokenStar) || p.at(TokenSlash) || p.at(TokenPercent) {
		op := p.advance().Text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	switch {
	case p.at(TokenMinus):
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Expr: e}, nil
	case p.at(TokenPlus):
		p.advance()
		return p.parseUnary()
	case p.at(TokenBitNot):
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "~", Expr: e}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.match(TokenDot):
			field, err := p.parseIdent("field name")
			if err != nil {
				return nil, err
			}
			// extend a bare identifier chain so the planner can try
			// qualified column resolution first
			if id, ok := e.(*Ident); ok {
				e = &Ident{Parts: append(append([]string{}, id.Parts...), field)}
			} else {
				e = &AccessExpr{Expr: e, Field: field}
			}
		case p.match(TokenLBracket):
			mode := "PLAIN"
			var idx Expr
			if p.peekKeyword("OFFSET", "ORDINAL", "SAFE_OFFSET", "SAFE_ORDINAL") {
				mode = p.advance().Keyword()
				if _, err := p.expect(TokenLParen, "'('"); err != nil {
					return nil, err
				}
				idx, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(TokenRParen, "')'"); err != nil {
					return nil, err
				}
			} else {
				idx, err = p.parseExpr()
				if err != nil {
					return nil, err
				}
			}
			if _, err := p.expect(TokenRBracket, "']'"); err != nil {
				return nil, err
			}
			e = &IndexExpr{Expr: e, Index: idx, Mode: mode}
		default:
			return e, nil
		}
	}
}

// typedLiteralNames are identifiers that combine with a following string
// literal into a typed literal.
var typedLiteralNames = map[string]string{
	"DATE": "DATE", "TIME": "TIME", "DATETIME": "DATETIME", "TIMESTAMP": "TIMESTAMP",
	"NUMERIC": "NUMERIC", "BIGNUMERIC": "BIGNUMERIC", "JSON": "JSON",
	"GEOGRAPHY": "GEOGRAPHY",
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.Type {
	case TokenIntLit:
		p.advance()
		return &Literal{Kind: "INT", Text: t.Text}, nil
	case TokenFloatLit:
		p.advance()
		return &Literal{Kind: "FLOAT", Text: t.Text}, nil
	case TokenStringLit:
		p.advance()
		return &Literal{Kind: "STRING", Text: t.Text}, nil
	case TokenBytesLit:
		p.advance()
		return &Literal{Kind: "BYTES", Text: t.Text}, nil
	case TokenParam:
		p.advance()
		return &Param{Name: t.Text}, nil
	case TokenStar:
		p.advance()
		return &Star{}, nil
	case TokenLBracket:
		return p.parseArrayLit(nil)
	case TokenLParen:
		p.advance()
		if p.peekKeyword("SELECT", "WITH") {
			sub, err := p.parseQueryStmt()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			return &SubqueryExpr{Query: sub}, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.match(TokenComma) {
			// row-value struct (a, b, ...)
			lit := &StructLit{Items: []Expr{e}, Names: []string{""}}
			for {
				item, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				lit.Items = append(lit.Items, item)
				lit.Names = append(lit.Names, "")
				if !p.match(TokenComma) {
					break
				}
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			return lit, nil
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}

	if t.Type != TokenKeyword && t.Type != TokenIdent && t.Type != TokenQuotedIdent {
		return nil, p.errorf("unexpected token %q", t.Text)
	}

	kw := t.Keyword()
	switch kw {
	case "NULL":
		p.advance()
		return &Literal{Kind: "NULL"}, nil
	case "TRUE", "FALSE":
		p.advance()
		return &Literal{Kind: "BOOL", Bool: kw == "TRUE"}, nil
	case "DEFAULT":
		p.advance()
		return &DefaultExpr{}, nil
	case "CASE":
		return p.parseCase()
	case "CAST", "SAFE_CAST":
		return p.parseCast(kw == "SAFE_CAST")
	case "EXTRACT":
		return p.parseExtract()
	case "EXISTS":
		p.advance()
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		sub, err := p.parseQueryStmt()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return &ExistsExpr{Query: sub}, nil
	case "INTERVAL":
		p.advance()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		unit, err := p.parseIdent("interval unit")
		if err != nil {
			return nil, err
		}
		return &IntervalExpr{Value: v, Unit: strings.ToUpper(unit)}, nil
	case "ARRAY":
		p.advance()
		if p.at(TokenLt) {
			elem, err := p.parseAngleType()
			if err != nil {
				return nil, err
			}
			if p.at(TokenLBracket) {
				return p.parseArrayLit(elem)
			}
			return nil, p.errorf("expected '[' after ARRAY<...>")
		}
		if p.match(TokenLParen) {
			sub, err := p.parseQueryStmt()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, "')'"); err != nil {
				return nil, err
			}
			return &SubqueryExpr{Query: sub, IsArray: true}, nil
		}
		if p.at(TokenLBracket) {
			return p.parseArrayLit(nil)
		}
		return nil, p.errorf("expected ARRAY literal or subquery")
	case "STRUCT":
		p.advance()
		if p.at(TokenLt) {
			if _, err := p.parseAngleStruct(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(TokenLParen, "'('"); err != nil {
			return nil, err
		}
		lit := &StructLit{}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			name := ""
			if p.matchKeyword("AS") {
				name, err = p.parseIdent("field name")
				if err != nil {
					return nil, err
				}
			}
			lit.Items = append(lit.Items, e)
			lit.Names = append(lit.Names, name)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
		return lit, nil
	}

	// typed literal: DATE '2024-01-01'
	if lit, ok := typedLiteralNames[kw]; ok && p.pos+1 < len(p.tokens) &&
		p.tokens[p.pos+1].Type == TokenStringLit {
		p.advance()
		s := p.advance()
		return &Literal{Kind: lit, Text: s.Text}, nil
	}
	if strings.HasPrefix(kw, "RANGE_") && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].Type == TokenStringLit {
		p.advance()
		s := p.advance()
		return &Literal{Kind: kw, Text: s.Text}, nil
	}

	// identifier or function call; reserved words are only legal here when
	// immediately applied as a function (LEFT(...), RIGHT(...), IF(...))
	if t.Type == TokenKeyword && (p.pos+1 >= len(p.tokens) || p.tokens[p.pos+1].Type != TokenLParen) {
		return nil, p.errorf("unexpected keyword %q in expression", t.Text)
	}
	name := p.advance().Text
	if p.at(TokenLParen) {
		return p.parseFuncCall(name)
	}
	return &Ident{Parts: []string{name}}, nil
}

func (p *Parser) parseArrayLit(elem *TypeName) (Expr, error) {
	if _, err := p.expect(TokenLBracket, "'['"); err != nil {
		return nil, err
	}
	lit := &ArrayLit{Elem: elem}
	if p.match(TokenRBracket) {
		return lit, nil
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Items = append(lit.Items, e)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRBracket, "']'"); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.advance() // CASE
	c := &CaseExpr{}
	if !p.peekKeyword("WHEN") {
		op, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Operand = op
	}
	for p.matchKeyword("WHEN") {
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, CaseWhen{When: when, Then: then})
	}
	if p.matchKeyword("ELSE") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("CASE requires at least one WHEN arm")
	}
	return c, nil
}

func (p *Parser) parseCast(safe bool) (Expr, error) {
	p.advance() // CAST
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typ, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: e, Type: *typ, Safe: safe}, nil
}

func (p *Parser) parseExtract() (Expr, error) {
	p.advance() // EXTRACT
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	part, err := p.parseIdent("date part")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return &ExtractExpr{Part: strings.ToUpper(part), From: e}, nil
}

func (p *Parser) parseFuncCall(name string) (Expr, error) {
	p.advance() // (
	fc := &FuncCall{Name: name}
	if p.matchKeyword("DISTINCT") {
		fc.Distinct = true
	}
	if !p.at(TokenRParen) {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, e)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	if p.matchKeyword("IGNORE") {
		if err := p.expectKeyword("NULLS"); err != nil {
			return nil, err
		}
		fc.IgnoreNulls = true
	} else if p.matchKeyword("RESPECT") {
		if err := p.expectKeyword("NULLS"); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		fc.OrderBy = items
	}
	if p.matchKeyword("LIMIT") {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fc.Limit = e
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	if p.matchKeyword("OVER") {
		if p.at(TokenLParen) {
			spec, err := p.parseWindowSpecParens()
			if err != nil {
				return nil, err
			}
			fc.Over = spec
		} else {
			name, err := p.parseIdent("window name")
			if err != nil {
				return nil, err
			}
			fc.OverName = name
		}
	}
	return fc, nil
}

func (p *Parser) parseWindowSpecParens() (*WindowSpec, error) {
	if _, err := p.expect(TokenLParen, "'('"); err != nil {
		return nil, err
	}
	spec := &WindowSpec{}
	if p.matchKeyword("PARTITION") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			spec.PartitionBy = append(spec.PartitionBy, e)
			if !p.match(TokenComma) {
				break
			}
		}
	}
	if p.matchKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		spec.OrderBy = items
	}
	if p.peekKeyword("ROWS", "RANGE", "GROUPS") {
		unit := p.advance().Keyword()
		frame := &WindowFrame{Unit: unit}
		parseBound := func() (FrameBound, error) {
			switch {
			case p.matchKeyword("UNBOUNDED"):
				if p.matchKeyword("PRECEDING") {
					return FrameBound{Kind: "UNBOUNDED_PRECEDING"}, nil
				}
				if err := p.expectKeyword("FOLLOWING"); err != nil {
					return FrameBound{}, err
				}
				return FrameBound{Kind: "UNBOUNDED_FOLLOWING"}, nil
			case p.matchKeyword("CURRENT"):
				if err := p.expectKeyword("ROW"); err != nil {
					return FrameBound{}, err
				}
				return FrameBound{Kind: "CURRENT"}, nil
			default:
				off, err := p.parseExpr()
				if err != nil {
					return FrameBound{}, err
				}
				if p.matchKeyword("PRECEDING") {
					return FrameBound{Kind: "PRECEDING", Offset: off}, nil
				}
				if err := p.expectKeyword("FOLLOWING"); err != nil {
					return FrameBound{}, err
				}
				return FrameBound{Kind: "FOLLOWING", Offset: off}, nil
			}
		}
		if p.matchKeyword("BETWEEN") {
			lo, err := parseBound()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return nil, err
			}
			hi, err := parseBound()
			if err != nil {
				return nil, err
			}
			frame.Lo, frame.Hi = lo, hi
		} else {
			lo, err := parseBound()
			if err != nil {
				return nil, err
			}
			frame.Lo = lo
			frame.Hi = FrameBound{Kind: "CURRENT"}
		}
		spec.Frame = frame
	}
	if _, err := p.expect(TokenRParen, "')'"); err != nil {
		return nil, err
	}
	return spec, nil
}

// ---- types ----

func (p *Parser) parseTypeName() (*TypeName, error) {
	name, err := p.parseIdent("type name")
	if err != nil {
		return nil, err
	}
	upper := strings.ToUpper(name)
	switch upper {
	case "ARRAY":
		elem, err := p.parseAngleType()
		if err != nil {
			return nil, err
		}
		return &TypeName{Name: "ARRAY", Elem: elem}, nil
	case "STRUCT":
		fields, err := p.parseAngleStruct()
		if err != nil {
			return nil, err
		}
		return &TypeName{Name: "STRUCT", Fields: fields}, nil
	}
	t := &TypeName{Name: upper}
	// NUMERIC(p, s) style parameters are accepted and ignored
	if p.at(TokenLParen) {
		p.advance()
		for !p.at(TokenRParen) && !p.at(TokenEOF) {
			p.advance()
		}
		if _, err := p.expect(TokenRParen, "')'"); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *Parser) parseAngleType() (*TypeName, error) {
	if _, err := p.expect(TokenLt, "'<'"); err != nil {
		return nil, err
	}
	elem, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenGt, "'>'"); err != nil {
		return nil, err
	}
	return elem, nil
}

func (p *Parser) parseAngleStruct() ([]TypeField, error) {
	if _, err := p.expect(TokenLt, "'<'"); err != nil {
		return nil, err
	}
	var fields []TypeField
	for {
		name, err := p.parseIdent("field name")
		if err != nil {
			return nil, err
		}
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		fields = append(fields, TypeField{Name: name, Type: *typ})
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenGt, "'>'"); err != nil {
		return nil, err
	}
	return fields, nil
}
