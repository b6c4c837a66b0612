package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/model"
)

// CompileFilter turns a structured predicate into a query document, validated
// against the document's fields. Compilation happens once per relation at
// graph build; a malformed filter is a configuration error and the relation
// carrying it is skipped for the cycle.
func CompileFilter(f *model.Filter, doc *model.Document) (bson.M, error) {
	if f == nil {
		return bson.M{}, nil
	}

	var clauses []bson.M

	for _, cond := range f.Conditions {
		clause, err := compileCondition(cond, doc)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}

	for _, sub := range f.Filters {
		clause, err := CompileFilter(sub, doc)
		if err != nil {
			return nil, err
		}
		if len(clause) > 0 {
			clauses = append(clauses, clause)
		}
	}

	switch {
	case len(clauses) == 0:
		return bson.M{}, nil
	case strings.EqualFold(f.Match, "or"):
		return bson.M{"$or": clauses}, nil
	default:
		return bson.M{"$and": clauses}, nil
	}
}

func compileCondition(cond model.FilterCondition, doc *model.Document) (bson.M, error) {
	if cond.Term == "" {
		return nil, fmt.Errorf("filter condition on %s is missing a term", doc.Name)
	}

	if first := model.FirstPart(cond.Term); first != "_id" {
		if _, ok := doc.Fields[first]; !ok {
			return nil, fmt.Errorf("filter term %s does not exist on %s", cond.Term, doc.Name)
		}
	}

	switch cond.Operator {
	case model.OpEquals:
		return bson.M{cond.Term: cond.Value}, nil
	case model.OpNotEquals:
		return bson.M{cond.Term: bson.M{"$ne": cond.Value}}, nil
	case model.OpIn:
		return bson.M{cond.Term: bson.M{"$in": listValue(cond.Value)}}, nil
	case model.OpNotIn:
		return bson.M{cond.Term: bson.M{"$nin": listValue(cond.Value)}}, nil
	case model.OpExists:
		exists := true
		if b, ok := cond.Value.(bool); ok {
			exists = b
		}
		return bson.M{cond.Term: bson.M{"$exists": exists}}, nil
	case model.OpLessThan:
		return bson.M{cond.Term: bson.M{"$lt": cond.Value}}, nil
	case model.OpGreaterThan:
		return bson.M{cond.Term: bson.M{"$gt": cond.Value}}, nil
	case model.OpLessOrEquals:
		return bson.M{cond.Term: bson.M{"$lte": cond.Value}}, nil
	case model.OpGreaterOrEquals:
		return bson.M{cond.Term: bson.M{"$gte": cond.Value}}, nil
	case model.OpBetween:
		return compileBetween(cond)
	case model.OpContains:
		return regexClause(cond, "", "", false)
	case model.OpNotContains:
		return regexClause(cond, "", "", true)
	case model.OpStartsWith:
		return regexClause(cond, "^", "", false)
	case model.OpEndWith:
		return regexClause(cond, "", "$", false)
	default:
		return nil, fmt.Errorf("filter term %s uses unsupported operator %q", cond.Term, cond.Operator)
	}
}

func compileBetween(cond model.FilterCondition) (bson.M, error) {
	bounds, ok := cond.Value.(bson.M)
	if !ok {
		if raw, isMap := cond.Value.(map[string]any); isMap {
			bounds = bson.M(raw)
		} else {
			return nil, fmt.Errorf("between condition on %s needs bound values", cond.Term)
		}
	}

	rangeClause := bson.M{}
	if v, ok := bounds["greater_or_equals"]; ok {
		rangeClause["$gte"] = v
	}
	if v, ok := bounds["less_or_equals"]; ok {
		rangeClause["$lte"] = v
	}
	if len(rangeClause) == 0 {
		return nil, fmt.Errorf("between condition on %s has no usable bounds", cond.Term)
	}
	return bson.M{cond.Term: rangeClause}, nil
}

func regexClause(cond model.FilterCondition, prefix, suffix string, negate bool) (bson.M, error) {
	s, ok := cond.Value.(string)
	if !ok {
		return nil, fmt.Errorf("operator %q on %s needs a string value", cond.Operator, cond.Term)
	}
	expr := prefix + regexp.QuoteMeta(s) + suffix
	if negate {
		return bson.M{cond.Term: bson.M{"$not": bson.M{"$regex": expr, "$options": "i"}}}, nil
	}
	return bson.M{cond.Term: bson.M{"$regex": expr, "$options": "i"}}, nil
}

func listValue(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case bson.A:
		return []any(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
