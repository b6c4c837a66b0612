package model

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ = Describe("ChangeRecord", func() {
	It("derives a deterministic id from the log position", func() {
		change := &ChangeRecord{Position: primitive.Timestamp{T: 1700000000, I: 7}}
		Expect(change.ChangeID()).To(Equal(int64(1700000000)*100000 + 7))

		replay := &ChangeRecord{Position: primitive.Timestamp{T: 1700000000, I: 7}}
		Expect(replay.ChangeID()).To(Equal(change.ChangeID()))
	})

	It("orders ids by position", func() {
		earlier := &ChangeRecord{Position: primitive.Timestamp{T: 100, I: 99999}}
		later := &ChangeRecord{Position: primitive.Timestamp{T: 101, I: 0}}
		Expect(earlier.ChangeID()).To(BeNumerically("<", later.ChangeID()))
	})

	It("strips bookkeeping fields without touching the original map", func() {
		change := &ChangeRecord{Data: bson.M{
			"status":     "Won",
			"_updatedAt": "x",
			"_createdBy": "y",
		}}

		clean := change.WithoutBookkeeping()
		Expect(clean).To(Equal(bson.M{"status": "Won"}))
		Expect(change.Data).To(HaveKey("_updatedAt"))
	})

	It("lists the changed top-level keys", func() {
		change := &ChangeRecord{Data: bson.M{"a": 1, "b": nil}}
		Expect(change.ChangedKeys()).To(ConsistOf("a", "b"))
	})
})

var _ = Describe("Document", func() {
	It("derives collection names from the document name", func() {
		doc := &Document{Name: "Contact"}
		Expect(doc.CollectionName()).To(Equal("data.Contact"))
		Expect(doc.TrashCollectionName()).To(Equal("data.Contact.Trash"))
		Expect(doc.HistoryCollectionName()).To(Equal("data.Contact.History"))
	})

	It("honors an explicit collection override", func() {
		doc := &Document{Name: "Contact", Collection: "crm.contacts"}
		Expect(doc.CollectionName()).To(Equal("crm.contacts"))
		Expect(doc.TrashCollectionName()).To(Equal("crm.contacts.Trash"))
	})

	It("resolves dotted paths to their first-level field", func() {
		doc := &Document{Name: "Contact", Fields: map[string]*Field{
			"address": {Name: "address", Type: KindAddress},
		}}

		field, err := doc.FieldByName("address.city")
		Expect(err).NotTo(HaveOccurred())
		Expect(field.Name).To(Equal("address"))

		_, err = doc.FieldByName("ghost")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("InheritPolicy", func() {
	It("recopies only the always variants", func() {
		Expect(InheritAlways.Recopies()).To(BeTrue())
		Expect(InheritHierarchyAlways.Recopies()).To(BeTrue())
		Expect(InheritUntilEdited.Recopies()).To(BeFalse())
		Expect(InheritOnceEditable.Recopies()).To(BeFalse())
		Expect(InheritOnceReadonly.Recopies()).To(BeFalse())
	})
})
