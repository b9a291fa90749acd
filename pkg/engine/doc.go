// Package engine provides the shared vocabulary of a managedmac run.
//
// # Errors
//
// Every failure crossing a package boundary is an *EngineError carrying a
// class. The class decides how far the failure travels:
//
//   - fetch_failure, not_found: the affected manifest, catalog or PPD is
//     skipped and its siblings continue
//   - resource_busy: the item is deferred to the next run
//   - resource_operation: only the current item is abandoned
//   - persistence: reported to the caller of the run
//
// Use the predicates rather than comparing classes:
//
//	if engine.IsNotFound(err) {
//	    // try the next identifier
//	}
//
// # Runs
//
// A run walks each direction (install, uninstall) with its own RunInfo so
// an item reached through several manifests is reconciled once. Each
// reconciliation yields an Outcome; the RunSummary collects them and
// classifies the run:
//
//	summary.Status() // succeeded, partial or failed
package engine
