// Package internaldefs holds the exported metric names, help strings and
// latency bucket bounds. The Prometheus and OTel exporters both read from
// here, so a rename shows up in both at once.
//
// It depends only on the root package and does no I/O.
package internaldefs
