package metadata

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"ripple.app/sync/internal/model"
)

// Aggregator is a reduction compiled from one AggregatorDef. Each variant
// knows how to build its pipeline over the relation's source collection and
// how to pull the destination value out of the result rows. A missing value
// (no rows, or a nil reduction) means the destination field gets unset
// instead of receiving a zero.
type Aggregator interface {
	// OutputField is the destination field on the aggregate owner.
	OutputField() string
	// Pipeline builds the full aggregation pipeline for the given match.
	Pipeline(match bson.M) mongo.Pipeline
	// Extract pulls the value out of the pipeline result.
	Extract(rows []bson.M) (any, bool)
}

// CompileAggregator resolves a declared aggregator against the source
// document's fields. Unknown operators and unresolvable source fields are
// configuration errors.
func CompileAggregator(output string, def model.AggregatorDef, source *model.Document) (Aggregator, error) {
	if !def.Aggregator.Valid() {
		return nil, fmt.Errorf("aggregator %s.%s uses unknown operator %q", source.Name, output, def.Aggregator)
	}

	if def.Aggregator == model.AggCount {
		return countAggregator{output: output}, nil
	}

	if def.Field == "" {
		return nil, fmt.Errorf("aggregator %s.%s (%s) is missing a source field", source.Name, output, def.Aggregator)
	}

	field, err := source.FieldByName(def.Field)
	if err != nil {
		return nil, fmt.Errorf("aggregator %s.%s: %w", source.Name, output, err)
	}

	if field.Type == model.KindMoney {
		valueField := def.Field
		if !strings.HasSuffix(valueField, ".value") {
			valueField += ".value"
		}
		return moneyAggregator{
			output:        output,
			op:            def.Aggregator,
			valueField:    valueField,
			currencyField: strings.TrimSuffix(valueField, ".value") + ".currency",
		}, nil
	}

	if field.Type.IsLookup() && def.Aggregator == model.AggAddToSet {
		return lookupSetAggregator{output: output, field: def.Field, unwind: field.IsList}, nil
	}

	return fieldAggregator{output: output, op: def.Aggregator, field: def.Field}, nil
}

// countAggregator counts matching documents through a summing reduction, so
// an empty source set naturally yields no row and therefore an unset.
type countAggregator struct {
	output string
}

func (a countAggregator) OutputField() string { return a.output }

func (a countAggregator) Pipeline(match bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "value": bson.M{"$sum": 1}}}},
	}
}

func (a countAggregator) Extract(rows []bson.M) (any, bool) {
	return scalarResult(rows)
}

// fieldAggregator applies sum/avg/min/max/first/last/addToSet over a plain
// source field.
type fieldAggregator struct {
	output string
	op     model.AggregatorOp
	field  string
}

func (a fieldAggregator) OutputField() string { return a.output }

func (a fieldAggregator) Pipeline(match bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "value": bson.M{"$" + string(a.op): "$" + a.field}}}},
	}
}

func (a fieldAggregator) Extract(rows []bson.M) (any, bool) {
	return scalarResult(rows)
}

// moneyAggregator reduces the numeric subfield of a money value and captures
// the first-seen currency alongside it.
type moneyAggregator struct {
	output        string
	op            model.AggregatorOp
	valueField    string
	currencyField string
}

func (a moneyAggregator) OutputField() string { return a.output }

func (a moneyAggregator) Pipeline(match bson.M) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":      nil,
			"value":    bson.M{"$" + string(a.op): "$" + a.valueField},
			"currency": bson.M{"$first": "$" + a.currencyField},
		}}},
	}
}

func (a moneyAggregator) Extract(rows []bson.M) (any, bool) {
	value, ok := scalarResult(rows)
	if !ok {
		return nil, false
	}
	return bson.M{"currency": rows[0]["currency"], "value": value}, true
}

// lookupSetAggregator collects the distinct lookup values referenced by the
// source set. List-valued lookups are unwound first, then deduplicated by the
// referenced id.
type lookupSetAggregator struct {
	output string
	field  string
	unwind bool
}

func (a lookupSetAggregator) OutputField() string { return a.output }

func (a lookupSetAggregator) Pipeline(match bson.M) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
	}
	if a.unwind {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: "$" + a.field}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$" + a.field + "._id",
			"value": bson.M{"$first": "$" + a.field},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"value": bson.M{"$addToSet": "$value"},
		}}},
	)
	return pipeline
}

func (a lookupSetAggregator) Extract(rows []bson.M) (any, bool) {
	return scalarResult(rows)
}

func scalarResult(rows []bson.M) (any, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	value, ok := rows[0]["value"]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}
