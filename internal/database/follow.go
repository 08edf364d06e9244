package database

import (
	"context"
	"reflect"
	"time"
)

// Follow subscribes to a collection and calls fn for every snapshot until ctx
// is done. fn runs on a dedicated goroutine; the returned error only reports
// subscription setup failure.
func Follow(ctx context.Context, r DocumentReader, collection string, fn func(Snapshot)) error {
	ch, err := r.Subscribe(ctx, collection)
	if err != nil {
		return err
	}
	go func() {
		for snap := range ch {
			fn(snap)
		}
	}()
	return nil
}

// PollSubscribe implements Subscribe for backends without a change feed by
// listing the collection every interval and emitting a snapshot whenever the
// content differs from the last one sent.
func PollSubscribe(ctx context.Context, list func(ctx context.Context) ([]Document, error), collection string, interval time.Duration, onError func(error)) <-chan Snapshot {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ch := make(chan Snapshot, 1)

	go func() {
		defer close(ch)
		var last []Document
		first := true
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			docs, err := list(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				if onError != nil {
					onError(err)
				}
			case first || !sameDocuments(last, docs):
				first = false
				last = docs
				select {
				case ch <- Snapshot{Collection: collection, Documents: docs, TakenAt: time.Now()}:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}

func sameDocuments(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !reflect.DeepEqual(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}
