package memory

import (
	"context"
	"fmt"
	"testing"

	"mailroute/backend/internal/domain"
)

func BenchmarkMemoryStore_FindRouteByDomainAndName(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	domainID := "dom-1"

	for i := 0; i < 10000; i++ {
		store.SaveRoute(ctx, &domain.Route{
			ID:       fmt.Sprintf("route-%d", i),
			ServerID: "srv-1",
			DomainID: &domainID,
			Name:     fmt.Sprintf("user%d", i),
			Token:    fmt.Sprintf("tok%05d", i),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.FindRouteByDomainAndName(ctx, domainID, fmt.Sprintf("user%d", i%10000))
	}
}

func BenchmarkMemoryStore_ConcurrentLookup(b *testing.B) {
	store := NewStore()
	ctx := context.Background()
	domainID := "dom-1"

	for i := 0; i < 1000; i++ {
		store.SaveRoute(ctx, &domain.Route{
			ID:       fmt.Sprintf("route-%d", i),
			ServerID: "srv-1",
			DomainID: &domainID,
			Name:     fmt.Sprintf("user%d", i),
			Token:    fmt.Sprintf("tok%05d", i),
		})
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			store.FindRouteByDomainAndName(ctx, domainID, fmt.Sprintf("user%d", i%1000))
			i++
		}
	})
}
