// Package worker runs detached work on a bounded pool of goroutines.
//
// Propagation runs are submitted here so that the edit notification that
// triggered them returns immediately. Submit is non-blocking: when the queue is
// full the item is rejected with ErrQueueFull and the caller decides what to
// tell the user. Stop closes the queue and waits for queued items to finish.
//
//	pool := worker.NewPool(4, 64, func(ctx context.Context, cs feature.ChangeSet) error {
//	    return run(ctx, cs)
//	}, worker.WithMetricsRegistry[feature.ChangeSet](registry, "propagation_pool"))
//	_ = pool.Start(ctx)
//	defer pool.Stop(10 * time.Second)
//
// A panicking item is recovered, logged with its stack and counted as failed;
// the worker keeps running.
package worker
