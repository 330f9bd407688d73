// Package storage groups the vault.Storage backends.
//
//   - memory: process-local map, shared by tabs living in one process
//   - redisstore: Redis keys, shared by tabs across processes and hosts
//   - boltstore: a bbolt file, for a single long-lived process such as the CLI
//   - filestore: one file per key in a directory, with fsnotify change watching
//
// Every backend treats a missing key as (value "", found false, err nil).
package storage
