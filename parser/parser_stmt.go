package parser

import (
	"fmt"

	"moocore/types"
)

// ParseProgram parses a complete MOO program (sequence of statements)
func (p *Parser) ParseProgram() ([]Stmt, error) {
	var statements []Stmt

	for p.current.Type != TOKEN_EOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}

	return statements, nil
}

// parseStatement parses a single statement
func (p *Parser) parseStatement() (Stmt, error) {
	switch p.current.Type {
	case TOKEN_IF:
		return p.parseIfStatement()
	case TOKEN_WHILE:
		return p.parseWhileStatement()
	case TOKEN_FOR:
		return p.parseForStatement()
	case TOKEN_RETURN:
		return p.parseReturnStatement()
	case TOKEN_BREAK:
		return p.parseBreakStatement()
	case TOKEN_CONTINUE:
		return p.parseContinueStatement()
	case TOKEN_TRY:
		return p.parseTryStatement()
	case TOKEN_FORK:
		return p.parseForkStatement()
	case TOKEN_LBRACE:
		return p.parseScatterStatement()
	case TOKEN_SEMICOLON:
		// Empty statement
		pos := p.current.Position
		p.nextToken()
		return &ExprStmt{Pos: pos, Expr: nil}, nil
	default:
		// Expression statement
		return p.parseExpressionStatement()
	}
}

// parseIfStatement parses if/elseif/else/endif
func (p *Parser) parseIfStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'if'

	// Parse condition
	if p.current.Type != TOKEN_LPAREN {
		return nil, fmt.Errorf("expected '(' after 'if'")
	}
	p.nextToken() // consume '('

	condition, err := p.ParseExpression(PREC_LOWEST)
	if err != nil {
		return nil, err
	}

	if p.current.Type != TOKEN_RPAREN {
		return nil, fmt.Errorf("expected ')' after if condition")
	}
	p.nextToken() // consume ')'

	// Parse body
	body, err := p.parseBody(TOKEN_ELSEIF, TOKEN_ELSE, TOKEN_ENDIF)
	if err != nil {
		return nil, err
	}

	// Parse elseif clauses
	var elseIfs []*ElseIfClause
	for p.current.Type == TOKEN_ELSEIF {
		elseIfPos := p.current.Position
		p.nextToken() // consume 'elseif'

		if p.current.Type != TOKEN_LPAREN {
			return nil, fmt.Errorf("expected '(' after 'elseif'")
		}
		p.nextToken()

		elseIfCond, err := p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}

		if p.current.Type != TOKEN_RPAREN {
			return nil, fmt.Errorf("expected ')' after elseif condition")
		}
		p.nextToken()

		elseIfBody, err := p.parseBody(TOKEN_ELSEIF, TOKEN_ELSE, TOKEN_ENDIF)
		if err != nil {
			return nil, err
		}

		elseIfs = append(elseIfs, &ElseIfClause{
			Pos:       elseIfPos,
			Condition: elseIfCond,
			Body:      elseIfBody,
		})
	}

	// Parse else clause (optional)
	var elseBody []Stmt
	if p.current.Type == TOKEN_ELSE {
		p.nextToken() // consume 'else'
		elseBody, err = p.parseBody(TOKEN_ENDIF)
		if err != nil {
			return nil, err
		}
	}

	// Expect endif
	if p.current.Type != TOKEN_ENDIF {
		return nil, fmt.Errorf("expected 'endif'")
	}
	p.nextToken() // consume 'endif'

	return &IfStmt{
		Pos:       pos,
		Condition: condition,
		Body:      body,
		ElseIfs:   elseIfs,
		Else:      elseBody,
	}, nil
}

// parseWhileStatement parses while loops
func (p *Parser) parseWhileStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'while'

	// Check for optional label
	var label string
	if p.current.Type == TOKEN_IDENTIFIER && p.peek.Type == TOKEN_LPAREN {
		label = p.current.Value
		p.nextToken() // consume label
	}

	// Parse condition
	if p.current.Type != TOKEN_LPAREN {
		return nil, fmt.Errorf("expected '(' in while statement")
	}
	p.nextToken() // consume '('

	condition, err := p.ParseExpression(PREC_LOWEST)
	if err != nil {
		return nil, err
	}

	if p.current.Type != TOKEN_RPAREN {
		return nil, fmt.Errorf("expected ')' after while condition")
	}
	p.nextToken() // consume ')'

	// Parse body
	body, err := p.parseBody(TOKEN_ENDWHILE)
	if err != nil {
		return nil, err
	}

	// Expect endwhile
	if p.current.Type != TOKEN_ENDWHILE {
		return nil, fmt.Errorf("expected 'endwhile'")
	}
	p.nextToken() // consume 'endwhile'

	return &WhileStmt{
		Pos:       pos,
		Label:     label,
		Condition: condition,
		Body:      body,
	}, nil
}

// parseForStatement parses for loops (list, range, or map iteration)
func (p *Parser) parseForStatement() (Stmt, error) {
	startPos := p.current.Position
	p.nextToken() // consume 'for'

	// Check for optional label
	var label string
	if p.current.Type == TOKEN_IDENTIFIER && p.peek.Type == TOKEN_IDENTIFIER {
		// Might be a label - need to distinguish from "for x in (...)"
		// Look ahead further
		label = p.current.Value
		p.nextToken() // consume label
	}

	// Parse variable name(s)
	if p.current.Type != TOKEN_IDENTIFIER {
		return nil, fmt.Errorf("expected identifier in for loop")
	}
	value := p.current.Value
	p.nextToken()

	var index string
	if p.current.Type == TOKEN_COMMA {
		p.nextToken() // consume comma
		if p.current.Type != TOKEN_IDENTIFIER {
			return nil, fmt.Errorf("expected identifier after comma in for loop")
		}
		index = p.current.Value
		p.nextToken()
	}

	// Expect 'in'
	if p.current.Type != TOKEN_IN {
		return nil, fmt.Errorf("expected 'in' in for loop")
	}
	p.nextToken() // consume 'in'

	// Check for range [start..end] or container (expr)
	var container Expr
	var rangeStart, rangeEnd Expr
	var err error

	if p.current.Type == TOKEN_LBRACKET {
		// Range iteration: for x in [start..end]
		p.nextToken() // consume '['

		rangeStart, err = p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}

		if p.current.Type != TOKEN_RANGE {
			return nil, fmt.Errorf("expected '..' in range expression")
		}
		p.nextToken() // consume '..'

		rangeEnd, err = p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}

		if p.current.Type != TOKEN_RBRACKET {
			return nil, fmt.Errorf("expected ']' after range expression")
		}
		p.nextToken() // consume ']'

	} else if p.current.Type == TOKEN_LPAREN {
		// List/map iteration: for x in (expr)
		p.nextToken() // consume '('

		container, err = p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}

		if p.current.Type != TOKEN_RPAREN {
			return nil, fmt.Errorf("expected ')' after for loop expression")
		}
		p.nextToken() // consume ')'
	} else {
		return nil, fmt.Errorf("expected '[' or '(' after 'in' in for loop")
	}

	// Parse body
	body, err := p.parseBody(TOKEN_ENDFOR)
	if err != nil {
		return nil, err
	}

	// Expect endfor
	if p.current.Type != TOKEN_ENDFOR {
		return nil, fmt.Errorf("expected 'endfor'")
	}
	p.nextToken() // consume 'endfor'

	return &ForStmt{
		Pos:        startPos,
		Label:      label,
		Value:      value,
		Index:      index,
		Container:  container,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Body:       body,
	}, nil
}

// parseReturnStatement parses return statements
func (p *Parser) parseReturnStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'return'

	var value Expr
	var err error

	// Check if there's an expression to return
	if p.current.Type != TOKEN_SEMICOLON && p.current.Type != TOKEN_EOF {
		value, err = p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}
	}

	// Expect semicolon
	if p.current.Type != TOKEN_SEMICOLON {
		return nil, fmt.Errorf("expected ';' after return statement")
	}
	p.nextToken() // consume ';'

	return &ReturnStmt{
		Pos:   pos,
		Value: value,
	}, nil
}

// parseBreakStatement parses break statements. "break label;" and
// "break expr;" share the same grammar slot here; the compiler
// resolves which form it is by checking whether the parsed
// expression is an identifier naming an enclosing loop.
func (p *Parser) parseBreakStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'break'

	var value Expr
	if p.current.Type != TOKEN_SEMICOLON {
		var err error
		value, err = p.ParseExpression(PREC_LOWEST)
		if err != nil {
			return nil, err
		}
	}

	// Expect semicolon
	if p.current.Type != TOKEN_SEMICOLON {
		return nil, fmt.Errorf("expected ';' after break statement")
	}
	p.nextToken() // consume ';'

	return &BreakStmt{
		Pos:   pos,
		Value: value,
	}, nil
}

// parseContinueStatement parses continue statements
func (p *Parser) parseContinueStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'continue'

	var label string
	if p.current.Type == TOKEN_IDENTIFIER {
		label = p.current.Value
		p.nextToken()
	}

	// Expect semicolon
	if p.current.Type != TOKEN_SEMICOLON {
		return nil, fmt.Errorf("expected ';' after continue statement")
	}
	p.nextToken() // consume ';'

	return &ContinueStmt{
		Pos:   pos,
		Label: label,
	}, nil
}

// parseExpressionStatement parses an expression statement
func (p *Parser) parseExpressionStatement() (Stmt, error) {
	pos := p.current.Position

	expr, err := p.ParseExpression(PREC_LOWEST)
	if err != nil {
		return nil, err
	}

	// Expect semicolon
	if p.current.Type != TOKEN_SEMICOLON {
		return nil, fmt.Errorf("expected ';' after expression statement")
	}
	p.nextToken() // consume ';'

	return &ExprStmt{
		Pos:  pos,
		Expr: expr,
	}, nil
}

// parseTryStatement parses try ... except/finally ... endtry, choosing
// the concrete statement type from which clauses are present.
func (p *Parser) parseTryStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'try'

	body, err := p.parseBody(TOKEN_EXCEPT, TOKEN_FINALLY, TOKEN_ENDTRY)
	if err != nil {
		return nil, err
	}

	var excepts []ExceptClause
	for p.current.Type == TOKEN_EXCEPT {
		except, err := p.parseExceptClause()
		if err != nil {
			return nil, err
		}
		excepts = append(excepts, except)
	}

	var finally []Stmt
	hasFinally := false
	if p.current.Type == TOKEN_FINALLY {
		hasFinally = true
		p.nextToken() // consume 'finally'
		finally, err = p.parseBody(TOKEN_ENDTRY)
		if err != nil {
			return nil, err
		}
	}

	if p.current.Type != TOKEN_ENDTRY {
		return nil, fmt.Errorf("expected 'endtry'")
	}
	p.nextToken() // consume 'endtry'

	switch {
	case len(excepts) > 0 && hasFinally:
		return &TryExceptFinallyStmt{Pos: pos, Body: body, Excepts: excepts, Finally: finally}, nil
	case len(excepts) > 0:
		return &TryExceptStmt{Pos: pos, Body: body, Excepts: excepts}, nil
	case hasFinally:
		return &TryFinallyStmt{Pos: pos, Body: body, Finally: finally}, nil
	default:
		return nil, fmt.Errorf("try statement requires at least one 'except' or a 'finally' clause")
	}
}

// parseExceptClause parses one "except [var] (ANY | codes...) body" arm.
func (p *Parser) parseExceptClause() (ExceptClause, error) {
	pos := p.current.Position
	p.nextToken() // consume 'except'

	var variable string
	if p.current.Type == TOKEN_IDENTIFIER {
		variable = p.current.Value
		p.nextToken()
	}

	if p.current.Type != TOKEN_LPAREN {
		return ExceptClause{}, fmt.Errorf("expected '(' after 'except'")
	}
	p.nextToken() // consume '('

	var isAny bool
	var codes []types.ErrorCode
	if p.current.Type == TOKEN_ANY {
		isAny = true
		p.nextToken()
	} else {
		for {
			if p.current.Type != TOKEN_ERROR_LIT {
				return ExceptClause{}, fmt.Errorf("expected error code in except clause, got %s", p.current.Type)
			}
			code, ok := errorCodes[p.current.Value]
			if !ok {
				return ExceptClause{}, fmt.Errorf("unknown error code: %s", p.current.Value)
			}
			codes = append(codes, code)
			p.nextToken()
			if p.current.Type == TOKEN_COMMA {
				p.nextToken()
				continue
			}
			break
		}
	}

	if p.current.Type != TOKEN_RPAREN {
		return ExceptClause{}, fmt.Errorf("expected ')' after except codes")
	}
	p.nextToken() // consume ')'

	body, err := p.parseBody(TOKEN_EXCEPT, TOKEN_FINALLY, TOKEN_ENDTRY)
	if err != nil {
		return ExceptClause{}, err
	}

	return ExceptClause{Pos: pos, IsAny: isAny, Codes: codes, Variable: variable, Body: body}, nil
}

// parseForkStatement parses fork [name] (delay) body endfork.
func (p *Parser) parseForkStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume 'fork'

	var varName string
	if p.current.Type == TOKEN_IDENTIFIER {
		varName = p.current.Value
		p.nextToken()
	}

	if p.current.Type != TOKEN_LPAREN {
		return nil, fmt.Errorf("expected '(' after 'fork'")
	}
	p.nextToken() // consume '('

	delay, err := p.ParseExpression(PREC_LOWEST)
	if err != nil {
		return nil, err
	}

	if p.current.Type != TOKEN_RPAREN {
		return nil, fmt.Errorf("expected ')' after fork delay")
	}
	p.nextToken() // consume ')'

	body, err := p.parseBody(TOKEN_ENDFORK)
	if err != nil {
		return nil, err
	}

	if p.current.Type != TOKEN_ENDFORK {
		return nil, fmt.Errorf("expected 'endfork'")
	}
	p.nextToken() // consume 'endfork'

	return &ForkStmt{Pos: pos, VarName: varName, Delay: delay, Body: body}, nil
}

// parseScatterStatement parses destructuring assignment:
// {a, ?b = default, @rest} = value;
func (p *Parser) parseScatterStatement() (Stmt, error) {
	pos := p.current.Position
	p.nextToken() // consume '{'

	var targets []ScatterTarget
	for p.current.Type != TOKEN_RBRACE {
		target, err := p.parseScatterTarget()
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
		if p.current.Type == TOKEN_COMMA {
			p.nextToken()
			continue
		}
		break
	}

	if p.current.Type != TOKEN_RBRACE {
		return nil, fmt.Errorf("expected '}' in scatter target list")
	}
	p.nextToken() // consume '}'

	if p.current.Type != TOKEN_ASSIGN {
		return nil, fmt.Errorf("expected '=' after scatter target list")
	}
	p.nextToken() // consume '='

	value, err := p.ParseExpression(PREC_LOWEST)
	if err != nil {
		return nil, err
	}

	if p.current.Type != TOKEN_SEMICOLON {
		return nil, fmt.Errorf("expected ';' after scatter assignment")
	}
	p.nextToken() // consume ';'

	return &ScatterStmt{Pos: pos, Targets: targets, Value: value}, nil
}

func (p *Parser) parseScatterTarget() (ScatterTarget, error) {
	switch p.current.Type {
	case TOKEN_AT:
		p.nextToken()
		if p.current.Type != TOKEN_IDENTIFIER {
			return ScatterTarget{}, fmt.Errorf("expected identifier after '@' in scatter target")
		}
		name := p.current.Value
		p.nextToken()
		return ScatterTarget{Name: name, Rest: true}, nil

	case TOKEN_QUESTION:
		p.nextToken()
		if p.current.Type != TOKEN_IDENTIFIER {
			return ScatterTarget{}, fmt.Errorf("expected identifier after '?' in scatter target")
		}
		name := p.current.Value
		p.nextToken()
		var def Expr
		if p.current.Type == TOKEN_ASSIGN {
			p.nextToken()
			var err error
			def, err = p.ParseExpression(PREC_TERNARY)
			if err != nil {
				return ScatterTarget{}, err
			}
		}
		return ScatterTarget{Name: name, Optional: true, Default: def}, nil

	case TOKEN_IDENTIFIER:
		name := p.current.Value
		p.nextToken()
		return ScatterTarget{Name: name}, nil

	default:
		return ScatterTarget{}, fmt.Errorf("expected scatter target, got %s", p.current.Type)
	}
}

// parseBody parses a sequence of statements until one of the terminators is reached
func (p *Parser) parseBody(terminators ...TokenType) ([]Stmt, error) {
	var body []Stmt

	for {
		// Check if we've reached a terminator
		isTerminator := false
		for _, term := range terminators {
			if p.current.Type == term {
				isTerminator = true
				break
			}
		}
		if isTerminator || p.current.Type == TOKEN_EOF {
			break
		}

		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}

	return body, nil
}
