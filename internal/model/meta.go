package model

import "fmt"

// Kind is the field type taxonomy of the metadata store. The engine only
// branches on a subset of these (lookup, money, and the formatting kinds);
// everything else flows through untouched.
type Kind string

const (
	KindText       Kind = "text"
	KindURL        Kind = "url"
	KindEmail      Kind = "email"
	KindNumber     Kind = "number"
	KindAutoNumber Kind = "autoNumber"
	KindPercentage Kind = "percentage"
	KindMoney      Kind = "money"
	KindBoolean    Kind = "boolean"
	KindDate       Kind = "date"
	KindDateTime   Kind = "dateTime"
	KindPersonName Kind = "personName"
	KindAddress    Kind = "address"
	KindPhone      Kind = "phone"
	KindPicklist   Kind = "picklist"
	KindLookup     Kind = "lookup"
	KindFilter     Kind = "filter"
	KindRichText   Kind = "richText"
	KindFile       Kind = "file"
	KindEncrypted  Kind = "encrypted"
	KindObjectID   Kind = "ObjectId"
)

// IsLookup reports whether values of this kind reference another document.
func (k Kind) IsLookup() bool { return k == KindLookup }

// Numeric reports whether the kind can feed a numeric reduction (sum, avg,
// min, max). Money qualifies through its numeric subfield.
func (k Kind) Numeric() bool {
	switch k {
	case KindNumber, KindAutoNumber, KindPercentage, KindMoney:
		return true
	default:
		return false
	}
}

// InheritPolicy controls how a referencing document keeps an inherited field
// in step with its lookup target.
type InheritPolicy string

const (
	InheritAlways          InheritPolicy = "always"
	InheritHierarchyAlways InheritPolicy = "hierarchy_always"
	InheritUntilEdited     InheritPolicy = "until_edited"
	InheritOnceEditable    InheritPolicy = "once_editable"
	InheritOnceReadonly    InheritPolicy = "once_readonly"
)

// Recopies reports whether the policy re-copies the value on every source
// change, as opposed to only filling a destination that never had one.
func (p InheritPolicy) Recopies() bool {
	return p == InheritAlways || p == InheritHierarchyAlways
}

// InheritedField pairs a field name with its inheritance policy.
type InheritedField struct {
	FieldName string        `bson:"fieldName" json:"fieldName"`
	Inherit   InheritPolicy `bson:"inherit" json:"inherit"`
}

// Field is one field definition of a document type. Lookup fields carry the
// denormalization contract: which target fields are snapshotted
// (DescriptionFields), which are inherited under a policy, and whether the
// target maintains a back-reference (ReverseLookup).
type Field struct {
	Name              string            `bson:"name" json:"name"`
	Type              Kind              `bson:"type" json:"type"`
	IsList            bool              `bson:"isList,omitempty" json:"isList,omitempty"`
	Document          string            `bson:"document,omitempty" json:"document,omitempty"`
	DescriptionFields []string          `bson:"descriptionFields,omitempty" json:"descriptionFields,omitempty"`
	InheritedFields   []InheritedField  `bson:"inheritedFields,omitempty" json:"inheritedFields,omitempty"`
	ReverseLookup     string            `bson:"reverseLookup,omitempty" json:"reverseLookup,omitempty"`
	IgnoreHistory     bool              `bson:"ignoreHistory,omitempty" json:"ignoreHistory,omitempty"`
	Label             map[string]string `bson:"label,omitempty" json:"label,omitempty"`
}

// AggregatorOp names the reduction a relation applies over its source set.
type AggregatorOp string

const (
	AggCount    AggregatorOp = "count"
	AggSum      AggregatorOp = "sum"
	AggAvg      AggregatorOp = "avg"
	AggMin      AggregatorOp = "min"
	AggMax      AggregatorOp = "max"
	AggFirst    AggregatorOp = "first"
	AggLast     AggregatorOp = "last"
	AggAddToSet AggregatorOp = "addToSet"
)

// Valid reports whether the op is one the engine knows how to compile.
func (op AggregatorOp) Valid() bool {
	switch op {
	case AggCount, AggSum, AggAvg, AggMin, AggMax, AggFirst, AggLast, AggAddToSet:
		return true
	default:
		return false
	}
}

// AggregatorDef is the declared form of one aggregate output field.
type AggregatorDef struct {
	Aggregator AggregatorOp `bson:"aggregator" json:"aggregator"`
	Field      string       `bson:"field,omitempty" json:"field,omitempty"`
}

// Relation declares a materialized aggregate that documents of the declaring
// type maintain over documents of type Document, joined through the Lookup
// field on Document and restricted by Filter.
type Relation struct {
	Document    string                   `bson:"document" json:"document"`
	Lookup      string                   `bson:"lookup" json:"lookup"`
	Filter      *Filter                  `bson:"filter,omitempty" json:"filter,omitempty"`
	Aggregators map[string]AggregatorDef `bson:"aggregators" json:"aggregators"`
}

// Document is the metadata of one document type. Owned by the metadata
// store; read-only here and rebuilt wholesale on reload.
type Document struct {
	Name        string            `bson:"name" json:"name"`
	Collection  string            `bson:"collection,omitempty" json:"collection,omitempty"`
	Label       map[string]string `bson:"label,omitempty" json:"label,omitempty"`
	Fields      map[string]*Field `bson:"fields" json:"fields"`
	Relations   []*Relation       `bson:"relations,omitempty" json:"relations,omitempty"`
	SendAlerts  bool              `bson:"sendAlerts,omitempty" json:"sendAlerts,omitempty"`
	SaveHistory bool              `bson:"saveHistory,omitempty" json:"saveHistory,omitempty"`
}

// CollectionName is the data collection backing this document type.
func (d *Document) CollectionName() string {
	if d.Collection != "" {
		return d.Collection
	}
	return "data." + d.Name
}

// TrashCollectionName is the soft-delete shadow collection.
func (d *Document) TrashCollectionName() string {
	return d.CollectionName() + ".Trash"
}

// HistoryCollectionName is the append-only audit collection.
func (d *Document) HistoryCollectionName() string {
	return d.CollectionName() + ".History"
}

// FieldByName resolves a possibly dotted path to its first-level field.
func (d *Document) FieldByName(name string) (*Field, error) {
	f, ok := d.Fields[firstPart(name)]
	if !ok {
		return nil, fmt.Errorf("document %s has no field %s", d.Name, name)
	}
	return f, nil
}

func firstPart(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return path[:i]
		}
	}
	return path
}

// FirstPart exposes the first segment of a dotted path; selection logic
// compares changed keys at this granularity.
func FirstPart(path string) string { return firstPart(path) }
