// Package writer warms index layers in the background so a lookup that hit
// a lower layer never waits on the upper ones.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// AsyncWriter feeds a bounded queue of Set calls to a small worker pool.
type AsyncWriter struct {
	layer   cache.CacheLayer
	queue   chan writeOp
	config  AsyncWriterConfig
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	enqueued atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64

	reportStop chan struct{}
}

type writeOp struct {
	key   string
	value string
	ttl   time.Duration
}

// AsyncWriterConfig configures the async writer.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is how long Write waits on a full queue before dropping.
	// Negative means drop immediately (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each Set against the layer (default: 1s)
	WriteTimeout time.Duration

	// ReportInterval is how often queue depth is reported (default: 5s)
	ReportInterval time.Duration
}

func (c AsyncWriterConfig) withDefaults() AsyncWriterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxWaitTime == 0 {
		c.MaxWaitTime = 10 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 5 * time.Second
	}
	return c
}

// NewAsyncWriter starts a writer for layer. It must be closed with Close.
func NewAsyncWriter(layer cache.CacheLayer, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(layer, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics starts a writer that reports to mc.
func NewAsyncWriterWithMetrics(layer cache.CacheLayer, config AsyncWriterConfig, mc metrics.MetricsCollector) *AsyncWriter {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		layer:      layer,
		queue:      make(chan writeOp, config.QueueSize),
		config:     config,
		metrics:    mc,
		logger:     logging.L().Named("writer").With(zap.String("layer", layer.Name())),
		ctx:        ctx,
		cancel:     cancel,
		reportStop: make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	go w.report()

	return w
}

// Write enqueues a Set. It returns ErrQueueFull when the queue stayed full
// for MaxWaitTime and ErrWriterClosed after Close.
func (w *AsyncWriter) Write(ctx context.Context, key, value string, ttl time.Duration) error {
	if w.ctx.Err() != nil {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	op := writeOp{key: key, value: value, ttl: ttl}

	select {
	case w.queue <- op:
		w.enqueued.Add(1)
		return nil
	default:
	}

	if w.config.MaxWaitTime < 0 {
		return w.drop(key)
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		w.enqueued.Add(1)
		return nil
	case <-timer.C:
		return w.drop(key)
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) drop(key string) error {
	w.dropped.Add(1)
	w.metrics.RecordWriteDropped(w.layer.Name())
	w.logger.Debug("warm-up write dropped", zap.String("key", key))
	return ErrQueueFull
}

func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-w.ctx.Done():
			// drain what was accepted before Close
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.layer.Set(ctx, op.key, op.value, op.ttl)
	w.metrics.RecordCacheWrite(w.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("warm-up write failed", zap.String("key", op.key), zap.Error(err))
		return
	}
	w.written.Add(1)
}

// Flush waits until the queue is empty or timeout passes.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if len(w.queue) == 0 && w.written.Load()+w.failed.Load() >= w.enqueued.Load() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes, applies what is queued and waits for the
// workers. It is safe to call more than once.
func (w *AsyncWriter) Close() error {
	w.once.Do(func() {
		close(w.reportStop)
		w.cancel()
		w.wg.Wait()
	})
	return nil
}

func (w *AsyncWriter) report() {
	ticker := time.NewTicker(w.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.metrics.RecordQueueDepth(w.layer.Name(), len(w.queue))
		case <-w.reportStop:
			return
		}
	}
}

// Stats returns a snapshot of the writer counters.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    len(w.queue),
		DroppedWrites: w.dropped.Load(),
		TotalWrites:   w.enqueued.Load(),
		FailedWrites:  w.failed.Load(),
	}
}
