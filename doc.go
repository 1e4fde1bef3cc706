// Package cachego provides an embedded adaptive cache for Go.
//
// Cachego combines adaptive expiration, transparent compression and
// memory-pressure-driven eviction with cross-process invalidation and
// consistency auditing:
//
//   - Adaptive TTL: per-namespace write rates shorten or stretch entry
//     lifetimes between configurable bounds
//   - Transparent compression (zstd or LZ4) with automatic raw
//     fallback for values that do not shrink
//   - Pressure bands with reactive eviction: usage crossing into the
//     high or critical band triggers an immediate eviction pass scored
//     by access frequency and idleness
//   - Smart and comprehensive invalidation with dependency cascades,
//     broadcast to other processes over a pluggable channel (NATS or
//     in-process)
//   - Consistency audits: processes exchange version/checksum digests
//     and repair divergence, higher version wins
//   - Optional persistent fallback store (local disk, S3, MinIO,
//     DynamoDB) with read-through, write-through and degraded mode
//   - Proactive background refresh with stale-while-revalidate
//
// # Quick Start
//
// Standalone in-memory cache:
//
//	ctx := context.Background()
//	c, err := cachego.New(ctx, cachego.WithCapacity(64<<20))
//	if err != nil {
//	    panic(err)
//	}
//	defer c.Close()
//
//	_ = c.Set(ctx, "users", "42", []byte(`{"name":"ada"}`))
//	value, ok := c.Get(ctx, "users", "42")
//
// Typed access through a view:
//
//	type User struct {
//	    Name string `json:"name"`
//	}
//
//	users := cachego.NewView[User](c, "users")
//	_ = users.Set(ctx, "42", User{Name: "ada"})
//	u, ok, _ := users.Get(ctx, "42")
//
// # Cross-Process Invalidation
//
// Connect caches in different processes through a broadcast channel:
//
//	ch, _ := broadcast.NewNATSChannel("nats://localhost:4222", "cache.events")
//	c, _ := cachego.New(ctx, cachego.WithBroadcast(ch))
//
//	// Removes the key everywhere, plus entries that depend on it.
//	_ = c.Invalidate(ctx, bus.ModeSmart, "users", []string{"42"}, "user updated")
//
// # Persistent Fallback
//
// A fallback store survives restarts and absorbs overflow. If it fails
// to initialize, the cache starts memory-only and reports
// Degraded=true through Metrics:
//
//	c, _ := cachego.New(ctx,
//	    cachego.WithFallbackInit(func(ctx context.Context) (fallback.Store, error) {
//	        return fallback.NewLocalStore("/var/cache/app")
//	    }),
//	)
//
// # Loading Through the Cache
//
// GetOrFetch deduplicates concurrent loads for the same key:
//
//	value, err := c.GetOrFetch(ctx, "reports", "daily", func(ctx context.Context) ([]byte, error) {
//	    return buildDailyReport(ctx)
//	})
//
// RegisterRefresh keeps hot keys warm by re-fetching them shortly
// before expiry; a failing backend leaves the stale value in place.
package cachego
