package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

const DefaultWorkers = 4

var ErrDispatcherClosed = errors.New("ingestion dispatcher is closed")

// Dispatcher runs ingestion in the background on a bounded ants pool.
// Every attempt that fails reaches the failure handler exactly once.
type Dispatcher struct {
	pool     *ants.Pool
	ingestor Ingestor
	db       core.DbClient
	cache    *cache.DocumentCache
	log      *zap.Logger

	// ctx outlives the request that dispatched the task and is cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// OnDone, when set, is called after each attempt with its outcome.
	OnDone func(docID string, chunks int, err error)
}

func NewDispatcher(ingestor Ingestor, db core.DbClient, docCache *cache.DocumentCache, workers int, log *zap.Logger) (*Dispatcher, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log = logger.OrNop(log)

	pool, err := ants.NewPool(workers,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(p any) {
			log.Error("ingestion worker panic escaped recovery", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingestion pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pool:     pool,
		ingestor: ingestor,
		db:       db,
		cache:    docCache,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Dispatch queues ingestion of a document and returns without waiting for
// it or for a free worker. A task the pool refuses still reaches the failure
// handler.
func (d *Dispatcher) Dispatch(docID, ownerID string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		err := d.pool.Submit(func() {
			defer d.wg.Done()
			d.run(docID, ownerID)
		})
		if err != nil {
			defer d.wg.Done()
			d.handleFailure(docID, ownerID, core.E(core.KindInternal, "dispatch", err))
			if d.OnDone != nil {
				d.OnDone(docID, 0, err)
			}
		}
	}()
	d.log.Debug("ingestion dispatched", zap.String("document_id", docID))
	return nil
}

func (d *Dispatcher) run(docID, ownerID string) {
	var (
		n   int
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = core.Errorf(core.KindInternal, "ingest", "panic: %v", r)
			}
		}()
		n, err = d.ingestor.Ingest(d.ctx, docID, ownerID)
	}()

	if err != nil {
		d.handleFailure(docID, ownerID, err)
	}
	if d.OnDone != nil {
		d.OnDone(docID, n, err)
	}
}

// handleFailure records status = error when the pipeline did not. Attempts
// rejected by the per-document lock belong to another attempt and are only logged.
func (d *Dispatcher) handleFailure(docID, ownerID string, cause error) {
	log := d.log.With(zap.String("document_id", docID), zap.String("kind", string(core.KindOf(cause))))
	switch core.KindOf(cause) {
	case core.KindIngestionInProgress, core.KindNotFound:
		log.Warn("background ingestion skipped", zap.Error(cause))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), cleanupTimeout)
	defer cancel()

	doc, err := d.db.GetDocument(ctx, docID, ownerID)
	if err != nil || doc == nil {
		log.Error("background ingestion failed; document unavailable", zap.Error(cause), zap.NamedError("lookup", err))
		return
	}
	if doc.Status != models.StatusError {
		msg := core.UserMessage(cause)
		if err := d.db.UpdateDocumentStatus(ctx, docID, ownerID, models.StatusUpdate{Status: models.StatusError, ErrorMessage: &msg}); err != nil {
			log.Error("could not record background ingestion failure", zap.Error(err))
		}
		d.cache.Invalidate(docID)
	}
	log.Error("background ingestion failed", zap.Error(cause))
}

// Wait blocks until every dispatched attempt has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting work and waits up to timeout for running attempts.
// Attempts still running after the timeout are cancelled.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		d.cancel()
		<-done
		err = fmt.Errorf("ingestion still running after %s; cancelled", timeout)
	}
	d.cancel()
	if rerr := d.pool.ReleaseTimeout(timeout); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
