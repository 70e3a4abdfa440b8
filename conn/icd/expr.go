// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package icd

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"fpgakit/ferr"
)

// allowedBinaryOps is the restricted arithmetic grammar scaling
// expressions may use: "+ - * / % << >> & | ^ ( ) x number". Parentheses and
// numeric literals need no explicit check, they fall out of how the parser
// builds the tree; every other construct (function calls, member access,
// ternaries, comparisons, strings, any identifier other than x) is
// rejected at ICD-load time as a SchemaError.
var allowedBinaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"<<": true, ">>": true, "&": true, "|": true, "^": true,
}

// compileExpr parses and validates a scaling expression, returning a
// compiled program that can be run with x bound to a float64. It fails
// closed: anything not explicitly recognized as part of the restricted
// grammar is a SchemaError, never silently ignored.
func compileExpr(src string) (*vm.Program, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.compileExpr", err, "expression %q failed to parse", src)
	}
	if err := restrict(tree.Node); err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.compileExpr", err, "expression %q uses a disallowed construct", src)
	}
	program, err := expr.Compile(src, expr.Env(map[string]interface{}{"x": float64(0)}))
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.compileExpr", err, "expression %q failed to compile", src)
	}
	return program, nil
}

// restrict walks node and fails on anything outside the allowed arithmetic
// grammar.
func restrict(node ast.Node) error {
	var firstErr error
	v := &restrictVisitor{report: func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}}
	ast.Walk(&node, v)
	return firstErr
}

type restrictVisitor struct {
	report func(error)
}

func (v *restrictVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode, *ast.UnaryNode:
		if u, ok := (*node).(*ast.UnaryNode); ok && u.Operator != "-" && u.Operator != "+" {
			v.report(fmt.Errorf("unary operator %q is not allowed", u.Operator))
		}
	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			v.report(fmt.Errorf("operator %q is not allowed", n.Operator))
		}
	case *ast.IdentifierNode:
		if n.Value != "x" {
			v.report(fmt.Errorf("identifier %q is not allowed, only x", n.Value))
		}
	default:
		v.report(fmt.Errorf("%T is not allowed in a scaling expression", n))
	}
}

// evalExpr runs a compiled expression with x bound to the given value,
// returning the resulting float64.
func evalExpr(program *vm.Program, x float64) (float64, error) {
	out, err := expr.Run(program, map[string]interface{}{"x": x})
	if err != nil {
		return 0, ferr.Wrap(ferr.ErrSchema, "icd.evalExpr", err, "expression evaluation failed")
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, ferr.Newf(ferr.ErrSchema, "icd.evalExpr", "expression produced non-numeric result %T", out)
	}
}
