package engine

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

var _ = Describe("Relation aggregation", func() {
	var (
		ctx   context.Context
		data  *mockDataStore
		eng   *Engine
		graph *metadata.Graph
	)

	BeforeEach(func() {
		ctx = context.Background()
		data = &mockDataStore{}
		eng, graph, _ = newTestEngine(data)
	})

	opportunityUpdate := func(changed bson.M) *model.ChangeRecord {
		return &model.ChangeRecord{
			Document: "Opportunity",
			ID:       "o42",
			Action:   model.ActionUpdate,
			Data:     changed,
			Position: primitive.Timestamp{T: 300, I: 1},
		}
	}

	It("recomputes the owner's count after a qualifying status change", func() {
		data.findOneFn = func(collection string, filter bson.M, opts *store.FindOptions) (bson.M, error) {
			Expect(collection).To(Equal("data.Opportunity"))
			Expect(opts.Projection).To(Equal(bson.M{"contact": 1}))
			return bson.M{"contact": bson.M{"_id": "c7"}}, nil
		}
		data.aggregateFn = func(string, mongo.Pipeline) ([]bson.M, error) {
			return []bson.M{{"_id": nil, "value": int32(3)}}, nil
		}

		err := eng.updateRelationReferences(ctx, graph, opportunityUpdate(bson.M{"status": "Won"}))
		Expect(err).NotTo(HaveOccurred())

		aggregates := data.Aggregates()
		Expect(aggregates).To(HaveLen(1))
		Expect(aggregates[0].Collection).To(Equal("data.Opportunity"))
		match := aggregates[0].Pipeline[0][0].Value.(bson.M)
		Expect(match).To(HaveKeyWithValue("contact._id", "c7"))
		Expect(match).To(HaveKey("$and"))

		updates := data.Updates()
		Expect(updates).To(HaveLen(1))
		Expect(updates[0].Collection).To(Equal("data.Contact"))
		Expect(updates[0].Filter).To(Equal(bson.M{"_id": "c7"}))
		Expect(updates[0].Update).To(Equal(bson.M{"$set": bson.M{"wonCount": int32(3)}}))
	})

	It("leaves owners untouched when neither filter nor aggregator fields changed", func() {
		err := eng.updateRelationReferences(ctx, graph, opportunityUpdate(bson.M{"subject": "Renamed"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(data.Aggregates()).To(BeEmpty())
		Expect(data.Updates()).To(BeEmpty())
	})

	It("recomputes the previous owner when the lookup moves", func() {
		data.findOneFn = func(collection string, filter bson.M, _ *store.FindOptions) (bson.M, error) {
			Expect(collection).To(Equal("data.Opportunity.History"))
			Expect(filter).To(HaveKeyWithValue("dataId", "o42"))
			return bson.M{"data": bson.M{"contact": bson.M{"_id": "c7"}}}, nil
		}

		err := eng.updateRelationReferences(ctx, graph, opportunityUpdate(bson.M{"contact": bson.M{"_id": "c9"}}))
		Expect(err).NotTo(HaveOccurred())

		updates := data.Updates()
		Expect(updates).To(HaveLen(2))
		targets := []any{updates[0].Filter["_id"], updates[1].Filter["_id"]}
		Expect(targets).To(ConsistOf("c9", "c7"))
	})

	It("unsets the aggregate when the source set is empty", func() {
		data.findOneFn = func(string, bson.M, *store.FindOptions) (bson.M, error) {
			return bson.M{"contact": bson.M{"_id": "c7"}}, nil
		}

		err := eng.updateRelationReferences(ctx, graph, opportunityUpdate(bson.M{"status": "Lost"}))
		Expect(err).NotTo(HaveOccurred())

		updates := data.Updates()
		Expect(updates).To(HaveLen(1))
		Expect(updates[0].Update).To(Equal(bson.M{"$unset": bson.M{"wonCount": 1}}))
	})

	It("recomputes the former owner when the record is trashed", func() {
		change := &model.ChangeRecord{
			Document: "Opportunity",
			ID:       "o42",
			Action:   model.ActionDelete,
			Data:     bson.M{"contact": bson.M{"_id": "c7"}, "status": "Won"},
			Position: primitive.Timestamp{T: 301, I: 1},
		}

		err := eng.updateRelationReferences(ctx, graph, change)
		Expect(err).NotTo(HaveOccurred())

		updates := data.Updates()
		Expect(updates).To(HaveLen(1))
		Expect(updates[0].Filter).To(Equal(bson.M{"_id": "c7"}))
		Expect(updates[0].Update).To(Equal(bson.M{"$unset": bson.M{"wonCount": 1}}))
	})

	It("produces identical writes when the same change is replayed", func() {
		data.findOneFn = func(string, bson.M, *store.FindOptions) (bson.M, error) {
			return bson.M{"contact": bson.M{"_id": "c7"}}, nil
		}
		data.aggregateFn = func(string, mongo.Pipeline) ([]bson.M, error) {
			return []bson.M{{"_id": nil, "value": int32(5)}}, nil
		}
		change := opportunityUpdate(bson.M{"status": "Won"})

		Expect(eng.updateRelationReferences(ctx, graph, change)).To(Succeed())
		Expect(eng.updateRelationReferences(ctx, graph, change)).To(Succeed())

		updates := data.Updates()
		Expect(updates).To(HaveLen(2))
		Expect(updates[0]).To(Equal(updates[1]))
	})
})
