package metadata

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/model"
)

var _ = Describe("CompileFilter", func() {
	doc := &model.Document{
		Name: "Opportunity",
		Fields: map[string]*model.Field{
			"status": {Name: "status", Type: model.KindPicklist},
			"value":  {Name: "value", Type: model.KindNumber},
			"name":   {Name: "name", Type: model.KindText},
		},
	}

	It("compiles nothing from a nil filter", func() {
		clause, err := CompileFilter(nil, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(clause).To(BeEmpty())
	})

	It("joins conditions with $and by default", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{
			{Term: "status", Operator: model.OpEquals, Value: "Won"},
			{Term: "value", Operator: model.OpGreaterThan, Value: 100},
		}}

		clause, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(clause).To(Equal(bson.M{"$and": []bson.M{
			{"status": "Won"},
			{"value": bson.M{"$gt": 100}},
		}}))
	})

	It("joins conditions with $or when asked", func() {
		filter := &model.Filter{
			Match: "or",
			Conditions: []model.FilterCondition{
				{Term: "status", Operator: model.OpEquals, Value: "Won"},
				{Term: "status", Operator: model.OpEquals, Value: "Lost"},
			},
		}

		clause, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(clause).To(HaveKey("$or"))
	})

	It("compiles nested filters as sub-clauses", func() {
		filter := &model.Filter{
			Conditions: []model.FilterCondition{{Term: "status", Operator: model.OpEquals, Value: "Won"}},
			Filters: []*model.Filter{{
				Match:      "or",
				Conditions: []model.FilterCondition{
					{Term: "value", Operator: model.OpGreaterThan, Value: 10},
					{Term: "value", Operator: model.OpExists, Value: false},
				},
			}},
		}

		clause, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
		clauses := clause["$and"].([]bson.M)
		Expect(clauses).To(HaveLen(2))
		Expect(clauses[1]).To(HaveKey("$or"))
	})

	It("compiles between into a bounded range", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{{
			Term:     "value",
			Operator: model.OpBetween,
			Value:    bson.M{"greater_or_equals": 10, "less_or_equals": 20},
		}}}

		clause, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(clause).To(Equal(bson.M{"$and": []bson.M{
			{"value": bson.M{"$gte": 10, "$lte": 20}},
		}}))
	})

	It("escapes regex metacharacters in contains", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{{
			Term: "name", Operator: model.OpContains, Value: "a.b",
		}}}

		clause, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(clause).To(Equal(bson.M{"$and": []bson.M{
			{"name": bson.M{"$regex": `a\.b`, "$options": "i"}},
		}}))
	})

	It("accepts _id terms without a field definition", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{{
			Term: "_id", Operator: model.OpEquals, Value: "x",
		}}}

		_, err := CompileFilter(filter, doc)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects terms that do not exist on the document", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{{
			Term: "ghost", Operator: model.OpEquals, Value: 1,
		}}}

		_, err := CompileFilter(filter, doc)
		Expect(err).To(MatchError(ContainSubstring("ghost")))
	})

	It("rejects unsupported operators", func() {
		filter := &model.Filter{Conditions: []model.FilterCondition{{
			Term: "status", Operator: "sounds_like", Value: "Won",
		}}}

		_, err := CompileFilter(filter, doc)
		Expect(err).To(MatchError(ContainSubstring("sounds_like")))
	})
})
