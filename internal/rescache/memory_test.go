package rescache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "abc"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	entry := Entry{ContentType: "text/javascript", Data: []byte("console.log(1)")}
	if err := c.Set(ctx, "abc", entry, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := c.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.ContentType != entry.ContentType || string(got.Data) != string(entry.Data) {
		t.Errorf("got %+v, want %+v", got, entry)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "abc", Entry{Data: []byte("x")}, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "abc"); ok {
		t.Error("expected entry to have expired")
	}
}
