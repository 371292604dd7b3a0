// Package evaluator interprets rule conditions against transaction records.
//
// Numeric fields compare as exact rationals via math/big so large amounts
// never lose precision. Lexical fields (hashes) compare as case-insensitive
// strings. Every failure is a coded error; nothing silently passes.
package evaluator

import (
	"strings"

	"quorum/internal/rules/models"
	dErrors "quorum/pkg/domain-errors"
)

// EvaluateCondition reports whether value satisfies cond for a field of kind.
func EvaluateCondition(kind models.FieldKind, value string, cond models.RuleCondition) (bool, error) {
	arity, ok := cond.Method.Arity()
	if !ok {
		return false, dErrors.Newf(dErrors.CodeUnsupportedMethod, "unsupported method %q", cond.Method)
	}
	if len(cond.Values) != arity {
		return false, dErrors.Newf(dErrors.CodeMalformedRule, "%s takes %d value(s), got %d", cond.Method, arity, len(cond.Values))
	}

	switch kind {
	case models.KindNumeric:
		return evaluateNumeric(value, cond)
	case models.KindLexical:
		return evaluateLexical(value, cond)
	default:
		return false, dErrors.Newf(dErrors.CodeMalformedRule, "unknown field kind %d", kind)
	}
}

func evaluateNumeric(value string, cond models.RuleCondition) (bool, error) {
	x, ok := models.ParseNumber(value)
	if !ok {
		return false, dErrors.Newf(dErrors.CodeNonNumericComparison, "field value %q is not a number", value)
	}
	operands := make([]int, len(cond.Values))
	for i, lit := range cond.Values {
		y, ok := models.ParseNumber(lit)
		if !ok {
			return false, dErrors.Newf(dErrors.CodeNonNumericComparison, "rule value %q is not a number", lit)
		}
		operands[i] = x.Cmp(y)
	}

	switch cond.Method {
	case models.MethodEqualTo:
		return operands[0] == 0, nil
	case models.MethodLessThan:
		return operands[0] < 0, nil
	case models.MethodGreaterThan:
		return operands[0] > 0, nil
	case models.MethodBetween:
		if models.CompareValues(models.KindNumeric, cond.Values[0], cond.Values[1]) > 0 {
			return false, dErrors.Newf(dErrors.CodeInvalidRange, "range %s..%s is inverted", cond.Values[0], cond.Values[1])
		}
		return operands[0] >= 0 && operands[1] <= 0, nil
	}
	return false, dErrors.Newf(dErrors.CodeUnsupportedMethod, "unsupported method %q", cond.Method)
}

func evaluateLexical(value string, cond models.RuleCondition) (bool, error) {
	cmp := func(lit string) int {
		return models.CompareValues(models.KindLexical, value, lit)
	}

	switch cond.Method {
	case models.MethodEqualTo:
		return strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(cond.Values[0])), nil
	case models.MethodLessThan:
		return cmp(cond.Values[0]) < 0, nil
	case models.MethodGreaterThan:
		return cmp(cond.Values[0]) > 0, nil
	case models.MethodBetween:
		if models.CompareValues(models.KindLexical, cond.Values[0], cond.Values[1]) > 0 {
			return false, dErrors.Newf(dErrors.CodeInvalidRange, "range %s..%s is inverted", cond.Values[0], cond.Values[1])
		}
		return cmp(cond.Values[0]) >= 0 && cmp(cond.Values[1]) <= 0, nil
	}
	return false, dErrors.Newf(dErrors.CodeUnsupportedMethod, "unsupported method %q", cond.Method)
}

// EvaluateRule reports whether record satisfies rule. applicable is false
// when the record has no value for the rule's field. A rule without
// conditions never matches.
func EvaluateRule(rule models.RuleDefinition, record models.Record) (matched, applicable bool, err error) {
	value, present := record[rule.Field]
	if !present {
		return false, false, nil
	}
	kind, ok := rule.Field.Kind()
	if !ok {
		return false, true, dErrors.Newf(dErrors.CodeMalformedRule, "unrecognised field %q", rule.Field)
	}
	if len(rule.Conditions) == 0 {
		return false, true, nil
	}
	for _, cond := range rule.Conditions {
		ok, err := EvaluateCondition(kind, value, cond)
		if err != nil {
			return false, true, err
		}
		if !ok {
			return false, true, nil
		}
	}
	return true, true, nil
}
