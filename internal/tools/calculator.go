package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Evaluate computes an arithmetic expression supporting + - * / % ^, unary
// minus, and parentheses, using the shunting-yard algorithm.
func Evaluate(expr string) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}
	rpn, err := toRPN(tokens)
	if err != nil {
		return 0, err
	}
	return evalRPN(rpn)
}

type token struct {
	op  byte // 0 for numbers
	num float64
}

func tokenize(expr string) ([]token, error) {
	var out []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case unicode.IsDigit(rune(c)) || c == '.':
			j := i
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			out = append(out, token{num: n})
			i = j
		case strings.IndexByte("+-*/%^()", c) >= 0:
			// a minus at the start or after an operator/open paren is unary
			if c == '-' && (len(out) == 0 || (out[len(out)-1].op != 0 && out[len(out)-1].op != ')')) {
				out = append(out, token{op: 'u'})
			} else {
				out = append(out, token{op: c})
			}
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return out, nil
}

func precedence(op byte) int {
	switch op {
	case 'u':
		return 4
	case '^':
		return 3
	case '*', '/', '%':
		return 2
	case '+', '-':
		return 1
	}
	return 0
}

func rightAssoc(op byte) bool { return op == '^' || op == 'u' }

func toRPN(tokens []token) ([]token, error) {
	var out, stack []token
	for _, t := range tokens {
		switch {
		case t.op == 0:
			out = append(out, t)
		case t.op == '(':
			stack = append(stack, t)
		case t.op == ')':
			for len(stack) > 0 && stack[len(stack)-1].op != '(' {
				out = append(out, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("mismatched parentheses")
			}
			stack = stack[:len(stack)-1]
		default:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.op == '(' ||
					precedence(top.op) < precedence(t.op) ||
					(precedence(top.op) == precedence(t.op) && rightAssoc(t.op)) {
					break
				}
				out = append(out, top)
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, t)
		}
	}
	for len(stack) > 0 {
		if stack[len(stack)-1].op == '(' {
			return nil, fmt.Errorf("mismatched parentheses")
		}
		out = append(out, stack[len(stack)-1])
		stack = stack[:len(stack)-1]
	}
	return out, nil
}

func evalRPN(rpn []token) (float64, error) {
	var stack []float64
	pop := func() (float64, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}
	for _, t := range rpn {
		if t.op == 0 {
			stack = append(stack, t.num)
			continue
		}
		if t.op == 'u' {
			v, ok := pop()
			if !ok {
				return 0, fmt.Errorf("malformed expression")
			}
			stack = append(stack, -v)
			continue
		}
		b, ok1 := pop()
		a, ok2 := pop()
		if !ok1 || !ok2 {
			return 0, fmt.Errorf("malformed expression")
		}
		switch t.op {
		case '+':
			stack = append(stack, a+b)
		case '-':
			stack = append(stack, a-b)
		case '*':
			stack = append(stack, a*b)
		case '/':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			stack = append(stack, a/b)
		case '%':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			stack = append(stack, math.Mod(a, b))
		case '^':
			stack = append(stack, math.Pow(a, b))
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	return stack[0], nil
}
