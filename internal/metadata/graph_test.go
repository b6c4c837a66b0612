package metadata

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ripple.app/sync/internal/model"
)

func graphFixture() []*model.Document {
	contact := &model.Document{
		Name: "Contact",
		Fields: map[string]*model.Field{
			"name":   {Name: "name", Type: model.KindText},
			"status": {Name: "status", Type: model.KindPicklist},
		},
		Relations: []*model.Relation{{
			Document: "Opportunity",
			Lookup:   "contact",
			Filter: &model.Filter{Conditions: []model.FilterCondition{
				{Term: "status", Operator: model.OpEquals, Value: "Won"},
			}},
			Aggregators: map[string]model.AggregatorDef{
				"wonCount":   {Aggregator: model.AggCount},
				"totalValue": {Aggregator: model.AggSum, Field: "value"},
			},
		}},
	}
	opportunity := &model.Document{
		Name: "Opportunity",
		Fields: map[string]*model.Field{
			"subject": {Name: "subject", Type: model.KindText},
			"status":  {Name: "status", Type: model.KindPicklist},
			"value":   {Name: "value", Type: model.KindNumber},
			"contact": {
				Name: "contact", Type: model.KindLookup, Document: "Contact",
				DescriptionFields: []string{"name"},
			},
		},
	}
	return []*model.Document{contact, opportunity}
}

var _ = Describe("BuildGraph", func() {
	It("indexes data and trash collections back to their document type", func() {
		graph, errs := BuildGraph(graphFixture())
		Expect(errs).To(BeEmpty())

		doc, trash, ok := graph.ByCollection("data.Contact")
		Expect(ok).To(BeTrue())
		Expect(trash).To(BeFalse())
		Expect(doc.Name).To(Equal("Contact"))

		doc, trash, ok = graph.ByCollection("data.Opportunity.Trash")
		Expect(ok).To(BeTrue())
		Expect(trash).To(BeTrue())
		Expect(doc.Name).To(Equal("Opportunity"))

		_, _, ok = graph.ByCollection("data.Nope")
		Expect(ok).To(BeFalse())
	})

	It("wires referrer edges keyed by the lookup target", func() {
		graph, errs := BuildGraph(graphFixture())
		Expect(errs).To(BeEmpty())

		referrers := graph.From("Contact")
		Expect(referrers).To(HaveKey("Opportunity"))
		Expect(referrers["Opportunity"]).To(HaveKey("contact"))
		Expect(graph.From("Opportunity")).To(BeEmpty())
	})

	It("wires relations from the aggregated source to the owner", func() {
		graph, errs := BuildGraph(graphFixture())
		Expect(errs).To(BeEmpty())

		owners := graph.RelationsFrom("Opportunity")
		Expect(owners).To(HaveKey("Contact"))
		Expect(owners["Contact"]).To(HaveLen(1))

		relation := owners["Contact"][0]
		Expect(relation.Owner).To(Equal("Contact"))
		Expect(relation.Source).To(Equal("Opportunity"))
		Expect(relation.Lookup).To(Equal("contact"))
		Expect(relation.ReferencedKeys).To(HaveKey("contact"))
		Expect(relation.ReferencedKeys).To(HaveKey("status"))
		Expect(relation.ReferencedKeys).To(HaveKey("value"))
		Expect(relation.Aggregators).To(HaveLen(2))
	})

	It("selects relations by changed keys", func() {
		graph, _ := BuildGraph(graphFixture())
		relation := graph.RelationsFrom("Opportunity")["Contact"][0]

		Expect(relation.AffectedBy([]string{"status"})).To(BeTrue())
		Expect(relation.AffectedBy([]string{"value"})).To(BeTrue())
		Expect(relation.AffectedBy([]string{"contact"})).To(BeTrue())
		Expect(relation.AffectedBy([]string{"subject"})).To(BeFalse())
	})

	It("skips a relation with an unknown aggregator but keeps the rest of the graph", func() {
		docs := graphFixture()
		docs[0].Relations[0].Aggregators["broken"] = model.AggregatorDef{Aggregator: "median", Field: "value"}

		graph, errs := BuildGraph(docs)
		Expect(errs).To(HaveLen(1))
		Expect(graph.RelationsFrom("Opportunity")).To(BeEmpty())
		Expect(graph.From("Contact")).To(HaveKey("Opportunity"))
	})

	It("reports lookups at unknown documents", func() {
		docs := graphFixture()
		docs[1].Fields["ghost"] = &model.Field{Name: "ghost", Type: model.KindLookup, Document: "Missing"}

		_, errs := BuildGraph(docs)
		Expect(errs).To(HaveLen(1))
	})

	It("lists every watched collection including trash shadows", func() {
		graph, _ := BuildGraph(graphFixture())
		Expect(graph.WatchedCollections()).To(ConsistOf(
			"data.Contact", "data.Contact.Trash",
			"data.Opportunity", "data.Opportunity.Trash",
		))
	})
})
