package ops

import (
	"context"
	"fmt"
	"testing"

	"github.com/hpungsan/docwatch/internal/errors"
)

func TestList_HappyPath(t *testing.T) {
	database := setupDB(t)
	for i := range 3 {
		seedRun(t, database, fmt.Sprintf("run-%d", i), "handbook", i, true)
	}

	output, err := List(context.Background(), database, ListInput{Collection: "handbook"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(output.Items) != 3 {
		t.Errorf("len(Items) = %d, want 3", len(output.Items))
	}
	if output.Items[0].ID != "run-2" {
		t.Errorf("first item = %s, want run-2", output.Items[0].ID)
	}
	if output.Pagination.Total != 3 || output.Pagination.HasMore {
		t.Errorf("Pagination = %+v", output.Pagination)
	}
	if output.Pagination.Limit != DefaultListLimit {
		t.Errorf("Limit = %d, want %d", output.Pagination.Limit, DefaultListLimit)
	}
	if output.Sort != "started_at_desc" {
		t.Errorf("Sort = %q, want 'started_at_desc'", output.Sort)
	}
}

func TestList_Empty(t *testing.T) {
	database := setupDB(t)

	output, err := List(context.Background(), database, ListInput{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if output.Items == nil {
		t.Error("Items should be an empty slice, not nil")
	}
}

func TestList_PaginationBounds(t *testing.T) {
	database := setupDB(t)
	for i := range 3 {
		seedRun(t, database, fmt.Sprintf("run-%d", i), "handbook", i, true)
	}

	output, err := List(context.Background(), database, ListInput{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if output.Pagination.Limit != MaxListLimit {
		t.Errorf("Limit = %d, want %d", output.Pagination.Limit, MaxListLimit)
	}
	if output.Pagination.Offset != 0 {
		t.Errorf("Offset = %d, want 0", output.Pagination.Offset)
	}

	page, err := List(context.Background(), database, ListInput{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !page.Pagination.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestList_StatusFilter(t *testing.T) {
	database := setupDB(t)
	seedRun(t, database, "good", "handbook", 0, true)
	seedRun(t, database, "bad", "handbook", 1, false)

	output, err := List(context.Background(), database, ListInput{Status: "failed"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(output.Items) != 1 || output.Items[0].ID != "bad" {
		t.Errorf("Items = %+v, want only 'bad'", output.Items)
	}

	if _, err := List(context.Background(), database, ListInput{Status: "bogus"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}
