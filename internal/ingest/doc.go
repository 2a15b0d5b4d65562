// Package ingest pulls articles from the licensed news feed and publishes
// them to the queue.
//
// The producer is the only writer of the source checkpoint. A batch is
// published in full before the checkpoint advances, so a crash between the
// two re-publishes the batch and the consumer side deduplicates it by
// envelope id. Rate-limit responses persist a cooldown on the checkpoint so
// restarts honour it.
package ingest
