package services

import (
	"context"
	"sync"
	"time"
)

const backgroundTimeout = 30 * time.Second

// tasks runs fire-and-forget work detached from the request that started it.
type tasks struct {
	wg sync.WaitGroup
}

func (t *tasks) Go(ctx context.Context, fn func(ctx context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(bctx)
	}()
}

// Wait blocks until all started work has finished.
func (t *tasks) Wait() {
	t.wg.Wait()
}
