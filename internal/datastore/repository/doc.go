// Package repository provides repository interfaces and GORM implementations
// for the mitra store.
//
// # Transactions
//
// Store bundles one repository per aggregate over a single *gorm.DB.
// Store.Transaction hands the callback a Store bound to the transaction, so
// repository calls made through it commit or roll back together:
//
//	err := store.Transaction(ctx, func(tx *repository.Store) error {
//	    if _, err := tx.Links.AssignCard(ctx, linkID, cardID); err != nil {
//	        return err
//	    }
//	    return tx.OpLog.Append(ctx, entities.LogRelationCardSet, &linkID, msg)
//	})
//
// Inside a transaction only the tx Store may be used. SQLite runs immediate
// transactions, so a write through the outer Store blocks until the busy
// timeout.
//
// # Error Handling
//
// All repositories return sentinel errors (ErrRecordNotFound, ErrDuplicateKey,
// etc.) instead of leaking GORM or driver errors.
//
// # Required Schema Constraints
//
// Unique constraints are the only concurrency guard in the pipeline:
//
//   - biometric_records: UNIQUE(fingerprint), UNIQUE(location)
//   - record_system_links: UNIQUE(record_id, recognition_system_id)
//   - alert_matches: UNIQUE(alert_id, record_id)
//   - alert_system_links: UNIQUE(alert_match_id, recognition_system_id)
//
// Create methods report a lost insert race as "not created" rather than as
// an error.
package repository
