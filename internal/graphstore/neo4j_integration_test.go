//go:build integration
// +build integration

package graphstore

import (
	"context"
	"os"
	"testing"
	"time"
)

// Run with: NEO4J_URI=bolt://localhost:7687 go test -tags=integration ./internal/graphstore -v
func TestNeo4jIntegration(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Open(ctx, Config{
		URI:      uri,
		Username: os.Getenv("NEO4J_USERNAME"),
		Password: os.Getenv("NEO4J_PASSWORD"),
	}, nil)
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer store.Close(ctx)

	// Applying twice must succeed both times
	for i := 0; i < 2; i++ {
		if err := store.ApplyIndex(ctx, "GraphoptTest", "phone"); err != nil {
			t.Fatalf("ApplyIndex attempt %d failed: %v", i+1, err)
		}
	}

	if _, err := store.ListRecentOperations(ctx); err != nil {
		t.Errorf("ListRecentOperations failed: %v", err)
	}
}
