// Package stores is the data-access layer that sits between the mandatory
// local relational store and an optional, user-supplied external store.
//
// It owns connection pooling for both targets, retries with exponential
// backoff, per-statement routing (identity data always stays local),
// best-effort mirroring of external writes back to the local store, and
// the lifecycle of the external store: attach, provision schema, detach,
// and probing candidate connection parameters.
//
// Callers only see Store. Everything else in this package is the
// machinery behind Store.Execute, Store.ExecuteTransaction,
// Store.SwitchToExternal and Store.TestConnection.
package stores
