// Package metrics exposes Prometheus collectors for the relay.
package metrics
