// Package trccapped provides a size-bounded, append-only record store. The
// store is a single rolling log over a fixed-size backing region. Writes
// return a handle, which is the logical offset of the record in the unbounded
// write stream. Once enough newer data has been written, old records are
// overwritten, and their handles quietly stop resolving.
//
// Eviction is strictly FIFO and costs nothing beyond cursor arithmetic. There
// is no delete operation, and no way to retain specific records.
package trccapped
