// Package pipeline runs admitted activity through the detection stages.
//
// An item first passes the admission filter. Admitted items are tagged, then
// the commitment detector, followup tracker and context correlator run
// concurrently on the item and its tags. Each stage publishes its findings
// on the bus, where the reminder manager picks them up. The pipeline itself
// only publishes urgent_notification for items that demand immediate
// attention.
//
// Producers reach the pipeline through Ingest, directly or via the HTTP
// server, the CLI, or the NATS ingest subject (see Subscribe).
package pipeline
