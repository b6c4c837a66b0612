package model

// FilterOperator is one comparison of a structured filter condition.
type FilterOperator string

const (
	OpEquals          FilterOperator = "equals"
	OpNotEquals       FilterOperator = "not_equals"
	OpIn              FilterOperator = "in"
	OpNotIn           FilterOperator = "not_in"
	OpContains        FilterOperator = "contains"
	OpNotContains     FilterOperator = "not_contains"
	OpStartsWith      FilterOperator = "starts_with"
	OpEndWith         FilterOperator = "end_with"
	OpLessThan        FilterOperator = "less_than"
	OpGreaterThan     FilterOperator = "greater_than"
	OpLessOrEquals    FilterOperator = "less_or_equals"
	OpGreaterOrEquals FilterOperator = "greater_or_equals"
	OpBetween         FilterOperator = "between"
	OpExists          FilterOperator = "exists"
)

// FilterCondition compares one term (a dotted field path) against a value.
type FilterCondition struct {
	Term     string         `bson:"term" json:"term"`
	Operator FilterOperator `bson:"operator" json:"operator"`
	Value    any            `bson:"value" json:"value"`
}

// Filter is a structured predicate: a boolean combination of conditions and
// nested filters. Match is "and" or "or"; empty means "and".
type Filter struct {
	Match      string            `bson:"match,omitempty" json:"match,omitempty"`
	Conditions []FilterCondition `bson:"conditions,omitempty" json:"conditions,omitempty"`
	Filters    []*Filter         `bson:"filters,omitempty" json:"filters,omitempty"`
}

// Terms returns every term referenced anywhere in the filter tree.
func (f *Filter) Terms() []string {
	if f == nil {
		return nil
	}
	var terms []string
	for _, c := range f.Conditions {
		terms = append(terms, c.Term)
	}
	for _, sub := range f.Filters {
		terms = append(terms, sub.Terms()...)
	}
	return terms
}
