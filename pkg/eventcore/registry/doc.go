// Package registry provides the concurrent lookup tables used across eventcore.
//
// # Registry
//
// Registry is a generic RWMutex-guarded map for read-heavy workloads:
//
//	types := registry.New[string, Decoder]()
//	types.Register("order.created", decodeOrderCreated)
//	dec, ok := types.Get("order.created")
//
// # Claims
//
// Claims enforces single ownership of keys. A claim over several keys either
// succeeds for all of them or reports the conflicting keys and changes nothing:
//
//	claims := registry.NewClaims[string, *Handler]()
//	if conflicts := claims.Claim(h, []string{"x", "y"}); len(conflicts) > 0 {
//	    // another handler owns conflicts
//	}
//
// Release only removes keys held by the releasing owner and reports the rest.
//
// # Locks
//
// Locks serializes work per key:
//
//	unlock := locks.Lock(entityID)
//	defer unlock()
package registry
