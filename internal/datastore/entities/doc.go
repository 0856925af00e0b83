// Package entities defines the GORM entity models for the mitra store.
//
// # Catalog
//
//   - SourceDatabase: origin of a dossier (for example "RR/CIVIL")
//   - RecognitionSystem: an external facial recognition deployment
//   - SourceSystemLink: which systems receive records of which sources
//
// # Records
//
//   - BiometricRecord: one ingested dossier, unique by fingerprint and location
//   - RecordSystemLink: a record's card on one recognition system
//
// # Alerts
//
//   - WatchlistAlert: a warrant or restriction copied from the upstream source
//   - AlertMatch: an alert resolved to a biometric record
//   - AlertSystemLink: an alert match's card on one recognition system
//
// # Audit
//
//   - OperationLog: append-only journal of pipeline outcomes keyed by LogCode
//
// Rows in these tables are never deleted by the pipeline. Unique indexes are
// the concurrency guard: a writer that loses an insert race treats the
// existing row as the answer.
package entities
