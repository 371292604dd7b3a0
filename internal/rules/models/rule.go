package models

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	dErrors "quorum/pkg/domain-errors"
)

// Method is a comparison operator of a rule condition.
type Method string

const (
	MethodLessThan    Method = "LESS_THAN"
	MethodGreaterThan Method = "GREATER_THAN"
	MethodBetween     Method = "BETWEEN"
	MethodEqualTo     Method = "EQUAL_TO"
)

// Arity returns the number of values the method takes. ok is false for
// unknown methods.
func (m Method) Arity() (n int, ok bool) {
	switch m {
	case MethodBetween:
		return 2, true
	case MethodLessThan, MethodGreaterThan, MethodEqualTo:
		return 1, true
	default:
		return 0, false
	}
}

// Field names a transaction attribute a rule can inspect.
type Field string

const (
	FieldTxHash  Field = "TxHash"
	FieldTxIndex Field = "TxIndex"
	FieldAmount  Field = "Amount"
	FieldFee     Field = "Fee"
	FieldTTL     Field = "TTL"
)

// FieldKind decides how values of a field compare.
type FieldKind int

const (
	// KindNumeric fields compare as arbitrary-precision numbers.
	KindNumeric FieldKind = iota + 1
	// KindLexical fields compare as strings.
	KindLexical
)

func (k FieldKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindLexical:
		return "lexical"
	default:
		return "unknown"
	}
}

var fieldKinds = map[Field]FieldKind{
	FieldTxHash:  KindLexical,
	FieldTxIndex: KindNumeric,
	FieldAmount:  KindNumeric,
	FieldFee:     KindNumeric,
	FieldTTL:     KindNumeric,
}

// Kind returns the field's comparison kind. ok is false for unrecognised fields.
func (f Field) Kind() (FieldKind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// Fields lists the recognised fields in display order.
func Fields() []Field {
	return []Field{FieldTxHash, FieldTxIndex, FieldAmount, FieldFee, FieldTTL}
}

// RuleCondition is a single comparison against a field value.
type RuleCondition struct {
	Method Method   `json:"method"`
	Values []string `json:"values"`
}

// RuleOutput is the effect of a matched authorization rule.
type RuleOutput struct {
	Threshold int `json:"threshold"`
}

// RuleDefinition binds a condition to a field. Authorization rules carry an
// output threshold; validation rules do not.
type RuleDefinition struct {
	Field      Field           `json:"field"`
	Conditions []RuleCondition `json:"conditions"`
	Output     *RuleOutput     `json:"output,omitempty"`
}

// RuleKind distinguishes the two rule lists.
type RuleKind int

const (
	KindValidation RuleKind = iota + 1
	KindAuthorization
)

var numberPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// ParseNumber parses a numeric literal as an exact rational. Integers of any
// size and plain decimals are accepted. Exponents, fractions and base
// prefixes are not.
func ParseNumber(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if !numberPattern.MatchString(s) {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	return r, true
}

// Validate checks a rule's shape before it reaches the evaluator.
func (r RuleDefinition) Validate(kind RuleKind) error {
	fieldKind, ok := r.Field.Kind()
	if !ok {
		return malformed("unrecognised field %q", r.Field)
	}
	if len(r.Conditions) != 1 {
		return malformed("rule on %s must have exactly one condition, got %d", r.Field, len(r.Conditions))
	}
	cond := r.Conditions[0]
	arity, ok := cond.Method.Arity()
	if !ok {
		return dErrors.Newf(dErrors.CodeUnsupportedMethod, "unsupported method %q", cond.Method)
	}
	if len(cond.Values) != arity {
		return malformed("%s on %s takes %d value(s), got %d", cond.Method, r.Field, arity, len(cond.Values))
	}
	if fieldKind == KindNumeric {
		for _, v := range cond.Values {
			if _, ok := ParseNumber(v); !ok {
				return malformed("value %q for numeric field %s is not a number", v, r.Field)
			}
		}
	}
	if cond.Method == MethodBetween && CompareValues(fieldKind, cond.Values[0], cond.Values[1]) > 0 {
		return dErrors.Newf(dErrors.CodeInvalidRange, "range on %s is inverted: %s > %s", r.Field, cond.Values[0], cond.Values[1])
	}
	if kind == KindAuthorization {
		if r.Output == nil {
			return malformed("authorization rule on %s has no output threshold", r.Field)
		}
		if r.Output.Threshold <= 0 {
			return malformed("authorization rule on %s has threshold %d, must be positive", r.Field, r.Output.Threshold)
		}
	}
	return nil
}

// ValidateRules validates each rule of a list, reporting the failing index.
func ValidateRules(rules []RuleDefinition, kind RuleKind) error {
	for i, rule := range rules {
		if err := rule.Validate(kind); err != nil {
			de, _ := dErrors.As(err)
			return dErrors.Newf(de.Code, "rule %d: %s", i, de.Message)
		}
	}
	return nil
}

// CompareValues orders two literals of a field kind. Numeric literals must
// already be known to parse. Lexical values (hex hashes) compare
// case-insensitively.
func CompareValues(kind FieldKind, a, b string) int {
	if kind == KindNumeric {
		x, _ := ParseNumber(a)
		y, _ := ParseNumber(b)
		return x.Cmp(y)
	}
	return strings.Compare(strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b)))
}

func malformed(format string, args ...any) error {
	return dErrors.New(dErrors.CodeMalformedRule, fmt.Sprintf(format, args...))
}
