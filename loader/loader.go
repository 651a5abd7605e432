// Package loader fetches and collates mini-batches on
// background goroutines.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unixpickle/anyspeaker/sampler"
	"github.com/unixpickle/anyspeaker/spkdata"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// DefaultWorkers is the number of fetch goroutines used
// when Loader.Workers is 0.
const DefaultWorkers = 2

// A Loader turns the index batches of a Sampler into
// collated batches.
//
// Batches are fetched concurrently, but they are always
// delivered in the order the Sampler produced them.
type Loader struct {
	Set        spkdata.Set
	Sampler    sampler.Sampler
	Creator    anyvec.Creator
	NumClasses int

	// Workers is the number of fetch goroutines.
	// If it is 0, DefaultWorkers is used.
	Workers int

	// Ahead is the maximum number of batches that may be
	// fetched before they are consumed.
	// If it is 0, twice the number of workers is used.
	Ahead int
}

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	return l.Sampler.NumBatches()
}

// Iterate performs one pass over the data, calling f for
// each batch on the calling goroutine.
//
// The first error, whether from fetching or from f, stops
// the pass and is returned.
// Iterate does not return until every worker has exited.
func (l *Loader) Iterate(ctx context.Context, f func(b *spkdata.Batch) error) (err error) {
	defer essentials.AddCtxTo("iterate batches", &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	indices := l.Sampler.Batches()
	if len(indices) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	workers := l.Workers
	if workers == 0 {
		workers = DefaultWorkers
	}
	ahead := l.Ahead
	if ahead == 0 {
		ahead = 2 * workers
	}

	results := make([]chan fetchResult, len(indices))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}
	slots := make(chan struct{}, ahead)
	jobs := make(chan int)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		for i := range indices {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				batch, err := l.fetch(indices[i])
				results[i] <- fetchResult{Batch: batch, Err: err}
			}
		}()
	}

	for i, resChan := range results {
		var res fetchResult
		select {
		case res = <-resChan:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-slots
		if err := ctx.Err(); err != nil {
			return err
		}
		if res.Err != nil {
			return fmt.Errorf("batch %d: %w", i, res.Err)
		}
		if err := f(res.Batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) fetch(indices []int) (*spkdata.Batch, error) {
	if len(indices) == 0 {
		return nil, errors.New("empty batch")
	}
	examples := make([]*spkdata.Example, len(indices))
	for i, idx := range indices {
		ex, err := l.Set.Example(idx)
		if err != nil {
			return nil, essentials.AddCtx(fmt.Sprintf("example %d", idx), err)
		}
		examples[i] = ex
	}
	return spkdata.Collate(l.Creator, examples, l.NumClasses)
}

type fetchResult struct {
	Batch *spkdata.Batch
	Err   error
}
