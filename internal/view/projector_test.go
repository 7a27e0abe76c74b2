package view

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

func collection(n int) []domain.Delivery {
	out := make([]domain.Delivery, 0, n)
	for i := n; i >= 1; i-- { // newest first, like a store snapshot
		out = append(out, domain.Delivery{
			ID:        int64(i),
			Date:      "2026-09-01",
			Recipient: fmt.Sprintf("Recipient %d", i),
			Address:   fmt.Sprintf("%d Loop Rd", i),
			Status:    domain.StatusPending,
		})
	}
	return out
}

func TestFilter_CaseInsensitiveOverRecipientAndAddress(t *testing.T) {
	snap := []domain.Delivery{
		{ID: 1, Recipient: "Ada Lovelace", Address: "1 Analytical Way"},
		{ID: 2, Recipient: "Bob", Address: "2 LOVELACE Court"},
		{ID: 3, Recipient: "Grace", Address: "3 Harbor St"},
	}

	got := Filter(snap, "lovelace")
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("expected ids 1,2, got %+v", got)
	}

	if got := Filter(snap, "HARBOR"); len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("address match failed: %+v", got)
	}

	if got := Filter(snap, ""); len(got) != 3 {
		t.Fatalf("empty term must match everything: %+v", got)
	}

	if got := Filter(snap, "zebra"); len(got) != 0 {
		t.Fatalf("expected no matches: %+v", got)
	}
}

func TestProject_Deterministic(t *testing.T) {
	snap := collection(23)
	a := Project(snap, "recipient", 2)
	b := Project(snap, "recipient", 2)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("projection not deterministic:\n%+v\n%+v", a, b)
	}
	// Projecting must not mutate the snapshot.
	if snap[0].ID != 23 {
		t.Fatalf("snapshot mutated: %+v", snap[0])
	}
}

func TestProject_PaginationBoundaries(t *testing.T) {
	snap := collection(23)

	p1 := Project(snap, "", 1)
	if p1.PageCount != 3 || p1.Total != 23 || len(p1.Items) != 10 {
		t.Fatalf("page 1 wrong: %+v", p1)
	}

	p3 := Project(snap, "", 3)
	if len(p3.Items) != 3 {
		t.Fatalf("page 3 should hold exactly 3 records, got %d", len(p3.Items))
	}

	// A page beyond PageCount clamps to the last page rather than serving
	// an empty slice for a stale page number.
	p4 := Project(snap, "", 4)
	if p4.Page != 3 || !reflect.DeepEqual(p4.Items, p3.Items) {
		t.Fatalf("page 4 should clamp to page 3: %+v", p4)
	}

	p0 := Project(snap, "", 0)
	if p0.Page != 1 {
		t.Fatalf("page 0 should clamp to 1: %+v", p0)
	}
}

func TestProject_EmptyCollection(t *testing.T) {
	p := Project(nil, "", 1)
	if p.PageCount != 1 || p.Total != 0 || len(p.Items) != 0 || p.Page != 1 {
		t.Fatalf("empty projection wrong: %+v", p)
	}
}

func TestProject_FilterShrinksPageCount(t *testing.T) {
	snap := collection(23)
	// Exactly one record matches "Recipient 7" (ids are 1..23; "Recipient 7"
	// is a prefix of nothing else since "Recipient 7x" stops at 23).
	p := Project(snap, "recipient 7", 1)
	if p.Total != 1 || p.PageCount != 1 || len(p.Items) != 1 {
		t.Fatalf("filtered projection wrong: %+v", p)
	}
	if p.Items[0].ID != 7 {
		t.Fatalf("wrong record: %+v", p.Items[0])
	}
}

func TestSummarize(t *testing.T) {
	snap := []domain.Delivery{
		{ID: 1, Status: domain.StatusPending},
		{ID: 2, Status: domain.StatusPending},
		{ID: 3, Status: domain.StatusInTransit},
		{ID: 4, Status: domain.StatusDelivered},
		{ID: 5, Status: domain.StatusNotDelivered},
	}
	got := Summarize(snap)
	want := Summary{Pending: 2, InTransit: 1, Delivered: 1, NotDelivered: 1}
	if got != want {
		t.Fatalf("summary wrong: %+v want %+v", got, want)
	}
}
