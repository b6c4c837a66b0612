package engine

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ = Describe("Checkpoint", func() {
	var (
		ctx   context.Context
		cs    *mockCheckpointStore
		stats *Stats
	)

	BeforeEach(func() {
		ctx = context.Background()
		cs = &mockCheckpointStore{}
		stats = NewStats()
	})

	It("persists only the greatest position regardless of call order", func() {
		cp := NewCheckpoint(cs, time.Hour, 1000, stats)

		cp.Advance(primitive.Timestamp{T: 30, I: 1})
		cp.Advance(primitive.Timestamp{T: 10, I: 2})
		cp.Advance(primitive.Timestamp{T: 20, I: 5})

		Expect(cp.Flush(ctx)).To(Succeed())
		Expect(cs.Saved()).To(Equal([]primitive.Timestamp{{T: 30, I: 1}}))
	})

	It("forces a flush when the pending count crosses the high-water mark", func() {
		cp := NewCheckpoint(cs, time.Hour, 3, stats)

		cp.Advance(primitive.Timestamp{T: 1, I: 1})
		cp.Advance(primitive.Timestamp{T: 1, I: 2})
		Expect(cs.Saved()).To(BeEmpty())

		cp.Advance(primitive.Timestamp{T: 1, I: 3})
		Expect(cs.Saved()).To(Equal([]primitive.Timestamp{{T: 1, I: 3}}))
	})

	It("flushes on its own after the debounce delay", func() {
		cp := NewCheckpoint(cs, 10*time.Millisecond, 1000, stats)

		cp.Advance(primitive.Timestamp{T: 7, I: 1})
		Eventually(cs.Saved).Should(Equal([]primitive.Timestamp{{T: 7, I: 1}}))
	})

	It("retries a position whose persistence failed", func() {
		cp := NewCheckpoint(cs, time.Hour, 1000, stats)
		cs.SetSaveErr(errors.New("primary stepped down"))

		cp.Advance(primitive.Timestamp{T: 42, I: 1})
		Expect(cp.Flush(ctx)).To(HaveOccurred())
		Expect(cs.Saved()).To(BeEmpty())

		cs.SetSaveErr(nil)
		Expect(cp.Flush(ctx)).To(Succeed())
		Expect(cs.Saved()).To(Equal([]primitive.Timestamp{{T: 42, I: 1}}))
	})

	It("never writes a position at or below the recovered checkpoint", func() {
		initial := primitive.Timestamp{T: 50, I: 1}
		cs.initial = &initial
		cp := NewCheckpoint(cs, time.Hour, 1000, stats)

		pos, found, err := cp.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(pos).To(Equal(initial))

		cp.Advance(primitive.Timestamp{T: 40, I: 9})
		Expect(cp.Flush(ctx)).To(Succeed())
		Expect(cs.Saved()).To(BeEmpty())
	})

	It("remembers the recovered position as the replay boundary", func() {
		initial := primitive.Timestamp{T: 50, I: 1}
		cs.initial = &initial
		cp := NewCheckpoint(cs, time.Hour, 1000, stats)

		_, _, err := cp.Load(ctx)
		Expect(err).NotTo(HaveOccurred())

		recovered, ok := cp.Recovered()
		Expect(ok).To(BeTrue())
		Expect(recovered).To(Equal(initial))
	})
})
