// Package bandit selects per-tenant strategy weight vectors with Thompson
// sampling over Beta posteriors.
//
// Each tenant owns a set of arms. Arms are created lazily on the tenant's
// first query, updated only through Controller.Apply, decayed by a
// background Sweeper and persisted through an ArmStore. Tenants live in a
// sharded map with one mutex per tenant, so work for different tenants never
// contends on the same lock.
package bandit
