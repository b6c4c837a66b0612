package metadata

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ripple.app/sync/internal/model"
)

type mockMetaStore struct {
	docs []*model.Document
}

func (m *mockMetaStore) ListDocuments(context.Context) ([]*model.Document, error) {
	return m.docs, nil
}

var _ = Describe("Loader", func() {
	It("installs the compiled graph", func() {
		loader := NewLoader(&mockMetaStore{docs: graphFixture()}, time.Millisecond)
		Expect(loader.Graph()).To(BeNil())

		Expect(loader.Load(context.Background())).To(Succeed())

		graph := loader.Graph()
		Expect(graph).NotTo(BeNil())
		Expect(graph.From("Contact")).To(HaveKey("Opportunity"))
	})

	It("swaps the graph atomically on reload, leaving the old value intact", func() {
		meta := &mockMetaStore{docs: graphFixture()}
		loader := NewLoader(meta, time.Millisecond)
		Expect(loader.Load(context.Background())).To(Succeed())
		before := loader.Graph()

		meta.docs = graphFixture()[:1]
		Expect(loader.Load(context.Background())).To(Succeed())

		Expect(loader.Graph()).NotTo(BeIdenticalTo(before))
		// the pinned graph still answers for in-flight entries
		Expect(before.From("Contact")).To(HaveKey("Opportunity"))
	})
})
