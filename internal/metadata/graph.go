package metadata

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/model"
)

// CompiledRelation is one relation definition resolved at graph build:
// filter compiled to a query document, aggregators compiled to typed
// reductions, and the set of source-side keys that can affect the aggregate.
type CompiledRelation struct {
	// Owner is the document type that owns the materialized aggregate.
	Owner string
	// Source is the document type aggregated over (the one whose changes
	// trigger a recompute).
	Source string
	// Lookup is the field on Source pointing back at Owner.
	Lookup string
	// Filter is the compiled predicate applied on Source.
	Filter bson.M
	// ReferencedKeys are the first-level Source fields whose change can
	// affect this aggregate: the lookup itself, filter terms, and the
	// aggregators' source fields.
	ReferencedKeys map[string]bool
	// Aggregators produce one destination field each.
	Aggregators []Aggregator
}

// AffectedBy reports whether a change touching the given keys can alter this
// relation's aggregates.
func (r *CompiledRelation) AffectedBy(changedKeys []string) bool {
	for _, key := range changedKeys {
		if r.ReferencedKeys[key] {
			return true
		}
	}
	return false
}

type collectionRef struct {
	document *model.Document
	trash    bool
}

// Graph is the compiled reference graph: for each document type, who copies
// its fields down (From) and who aggregates over it (RelationsFrom). A Graph
// value is immutable; metadata reloads build a new one and swap the pointer.
type Graph struct {
	documents     map[string]*model.Document
	byCollection  map[string]collectionRef
	from          map[string]map[string]map[string]*model.Field
	relationsFrom map[string]map[string][]*CompiledRelation
}

// BuildGraph compiles metadata into a reference graph. Malformed relations
// (bad filter, unknown aggregator) are returned as errors and skipped, so one
// bad definition never takes the graph down.
func BuildGraph(documents []*model.Document) (*Graph, []error) {
	g := &Graph{
		documents:     make(map[string]*model.Document, len(documents)),
		byCollection:  make(map[string]collectionRef, len(documents)*2),
		from:          make(map[string]map[string]map[string]*model.Field),
		relationsFrom: make(map[string]map[string][]*CompiledRelation),
	}

	var errs []error

	for _, doc := range documents {
		g.documents[doc.Name] = doc
		g.byCollection[doc.CollectionName()] = collectionRef{document: doc}
		g.byCollection[doc.TrashCollectionName()] = collectionRef{document: doc, trash: true}
	}

	for _, doc := range documents {
		for fieldName, field := range doc.Fields {
			if !field.Type.IsLookup() || field.Document == "" {
				continue
			}
			if _, ok := g.documents[field.Document]; !ok {
				errs = append(errs, fmt.Errorf("lookup %s.%s references unknown document %s", doc.Name, fieldName, field.Document))
				continue
			}
			target := g.from[field.Document]
			if target == nil {
				target = make(map[string]map[string]*model.Field)
				g.from[field.Document] = target
			}
			if target[doc.Name] == nil {
				target[doc.Name] = make(map[string]*model.Field)
			}
			target[doc.Name][fieldName] = field
		}

		for _, relation := range doc.Relations {
			compiled, err := g.compileRelation(doc, relation)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			source := g.relationsFrom[compiled.Source]
			if source == nil {
				source = make(map[string][]*CompiledRelation)
				g.relationsFrom[compiled.Source] = source
			}
			source[doc.Name] = append(source[doc.Name], compiled)
		}
	}

	return g, errs
}

func (g *Graph) compileRelation(owner *model.Document, relation *model.Relation) (*CompiledRelation, error) {
	source, ok := g.documents[relation.Document]
	if !ok {
		return nil, fmt.Errorf("relation on %s aggregates over unknown document %s", owner.Name, relation.Document)
	}

	if relation.Lookup == "" {
		return nil, fmt.Errorf("relation %s over %s has no lookup field", owner.Name, relation.Document)
	}

	filter, err := CompileFilter(relation.Filter, source)
	if err != nil {
		return nil, fmt.Errorf("relation %s over %s: %w", owner.Name, relation.Document, err)
	}

	compiled := &CompiledRelation{
		Owner:          owner.Name,
		Source:         source.Name,
		Lookup:         relation.Lookup,
		Filter:         filter,
		ReferencedKeys: map[string]bool{relation.Lookup: true},
	}

	for _, term := range relation.Filter.Terms() {
		compiled.ReferencedKeys[model.FirstPart(term)] = true
	}

	for output, def := range relation.Aggregators {
		aggregator, err := CompileAggregator(output, def, source)
		if err != nil {
			return nil, err
		}
		if def.Field != "" {
			compiled.ReferencedKeys[model.FirstPart(def.Field)] = true
		}
		compiled.Aggregators = append(compiled.Aggregators, aggregator)
	}

	if len(compiled.Aggregators) == 0 {
		return nil, fmt.Errorf("relation %s over %s declares no aggregators", owner.Name, relation.Document)
	}

	return compiled, nil
}

// Document resolves a document type by name.
func (g *Graph) Document(name string) (*model.Document, bool) {
	doc, ok := g.documents[name]
	return doc, ok
}

// ByCollection resolves a collection name (data or trash shadow) to its
// document type.
func (g *Graph) ByCollection(name string) (doc *model.Document, trash bool, ok bool) {
	ref, ok := g.byCollection[name]
	if !ok {
		return nil, false, false
	}
	return ref.document, ref.trash, true
}

// From lists who denormalizes the given document type:
// source document name → field name → field definition.
func (g *Graph) From(target string) map[string]map[string]*model.Field {
	return g.from[target]
}

// RelationsFrom lists who aggregates over the given document type:
// owner document name → compiled relations.
func (g *Graph) RelationsFrom(source string) map[string][]*CompiledRelation {
	return g.relationsFrom[source]
}

// WatchedCollections returns every collection the tailer must follow,
// trash shadows included.
func (g *Graph) WatchedCollections() []string {
	names := make([]string, 0, len(g.byCollection))
	for name := range g.byCollection {
		names = append(names, name)
	}
	return names
}
