package engine

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

var _ = Describe("Reverse-link synchronization", func() {
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

	It("moves the back-reference exclusively to the new target", func() {
		data.findOneFn = func(collection string, filter bson.M, _ *store.FindOptions) (bson.M, error) {
			Expect(collection).To(Equal("data.Opportunity"))
			return bson.M{"_id": "o42", "subject": "Big deal"}, nil
		}

		change := &model.ChangeRecord{
			Document: "Opportunity",
			ID:       "o42",
			Action:   model.ActionUpdate,
			Data:     bson.M{"contact": bson.M{"_id": "c9"}},
			Position: primitive.Timestamp{T: 400, I: 1},
		}

		Expect(eng.syncReverseLookups(ctx, graph, change)).To(Succeed())

		updates := data.Updates()
		Expect(updates).To(HaveLen(2))

		Expect(updates[0].Collection).To(Equal("data.Contact"))
		Expect(updates[0].Filter).To(Equal(bson.M{
			"lastOpportunity._id": "o42",
			"_id":                 bson.M{"$nin": []any{"c9"}},
		}))
		Expect(updates[0].Update).To(Equal(bson.M{"$unset": bson.M{"lastOpportunity": 1}}))

		Expect(updates[1].Filter).To(Equal(bson.M{"_id": bson.M{"$in": []any{"c9"}}}))
		Expect(updates[1].Update).To(Equal(bson.M{"$set": bson.M{"lastOpportunity": bson.M{
			"_id":     "o42",
			"subject": "Big deal",
		}}}))
	})

	It("only detaches when the lookup is cleared", func() {
		change := &model.ChangeRecord{
			Document: "Opportunity",
			ID:       "o42",
			Action:   model.ActionUpdate,
			Data:     bson.M{"contact": nil},
			Position: primitive.Timestamp{T: 401, I: 1},
		}

		Expect(eng.syncReverseLookups(ctx, graph, change)).To(Succeed())

		updates := data.Updates()
		Expect(updates).To(HaveLen(1))
		Expect(updates[0].Filter).To(Equal(bson.M{"lastOpportunity._id": "o42"}))
		Expect(updates[0].Update).To(Equal(bson.M{"$unset": bson.M{"lastOpportunity": 1}}))
	})

	It("ignores lookup fields the change did not touch", func() {
		change := &model.ChangeRecord{
			Document: "Opportunity",
			ID:       "o42",
			Action:   model.ActionUpdate,
			Data:     bson.M{"status": "Won"},
			Position: primitive.Timestamp{T: 402, I: 1},
		}

		Expect(eng.syncReverseLookups(ctx, graph, change)).To(Succeed())
		Expect(data.Updates()).To(BeEmpty())
	})
})
