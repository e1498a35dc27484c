package mongo_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxrelay/pkg/store"
	"github.com/MrWong99/voxrelay/pkg/store/mongo"
)

func TestNew_RequiresURI(t *testing.T) {
	if _, err := mongo.New(context.Background(), mongo.Options{}); err == nil {
		t.Fatal("expected error for empty URI")
	}
}

func TestStore_Integration(t *testing.T) {
	uri := os.Getenv("VOXRELAY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("VOXRELAY_TEST_MONGO_URI not set, skipping MongoDB integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := mongo.New(ctx, mongo.Options{URI: uri, Collection: "test_" + uuid.NewString()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	older, err := s.Save(ctx, store.Record{Name: "older", Transcript: "a", Timestamp: base})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(ctx, store.Record{Name: "newer", Transcript: "b", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	recs, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "newer" {
		t.Fatalf("List = %+v", recs)
	}

	got, err := s.Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcript != "a" || !got.Timestamp.Equal(base) {
		t.Errorf("Get = %+v", got)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
