package device

import (
	"context"
	"sort"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestRegistry creates a Registry connected to a local Redis instance and
// cleans up test keys on exit. Tests that call this helper require a running
// Redis on localhost:6379.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, DevicesPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewRegistry(client)
}

func TestUpsertAndTokens(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Upsert(ctx, "test_u1", "phone", "fcm:aaa"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := reg.Upsert(ctx, "test_u1", "tablet", "fcm:bbb"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	tokens, err := reg.Tokens(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Tokens() error: %v", err)
	}
	sort.Strings(tokens)
	if len(tokens) != 2 || tokens[0] != "fcm:aaa" || tokens[1] != "fcm:bbb" {
		t.Fatalf("expected [fcm:aaa fcm:bbb], got %v", tokens)
	}
}

func TestUpsertRefreshReplacesAddress(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Upsert(ctx, "test_u2", "phone", "fcm:old"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := reg.Upsert(ctx, "test_u2", "phone", "fcm:new"); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	tokens, err := reg.Tokens(ctx, "test_u2")
	if err != nil {
		t.Fatalf("Tokens() error: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "fcm:new" {
		t.Fatalf("expected single refreshed token, got %v", tokens)
	}
}

func TestTokensForUnknownUser(t *testing.T) {
	reg := newTestRegistry(t)

	tokens, err := reg.Tokens(context.Background(), "test_nobody")
	if err != nil {
		t.Fatalf("Tokens() error: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %v", tokens)
	}
}

func TestRemove(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	reg.Upsert(ctx, "test_u3", "phone", "apns:xyz")
	if err := reg.Remove(ctx, "test_u3", "phone"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	tokens, _ := reg.Tokens(ctx, "test_u3")
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens after remove, got %v", tokens)
	}
}

func TestRemoveAddress(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	reg.Upsert(ctx, "test_u4", "phone", "fcm:dead")
	reg.Upsert(ctx, "test_u4", "tablet", "fcm:alive")

	if err := reg.RemoveAddress(ctx, "test_u4", "fcm:dead"); err != nil {
		t.Fatalf("RemoveAddress() error: %v", err)
	}

	tokens, _ := reg.Tokens(ctx, "test_u4")
	if len(tokens) != 1 || tokens[0] != "fcm:alive" {
		t.Fatalf("expected only the live token, got %v", tokens)
	}
}

func TestUpsertValidation(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Upsert(context.Background(), "test_u5", "", "fcm:x"); err == nil {
		t.Fatal("expected error for empty device id")
	}
}
