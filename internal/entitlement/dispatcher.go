package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/middleware"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("entitlement: dispatcher closed")

// Processor handles one notification.
type Processor interface {
	Reconcile(ctx context.Context, n Notification) (Outcome, error)
}

// Dispatcher runs notifications in the background after the delivery has
// been acknowledged. At most concurrency notifications are processed at once;
// the rest wait for a slot.
type Dispatcher struct {
	processor Processor
	sem       chan struct{}
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each notification gets its own
// timeout-bounded context detached from the request that delivered it.
func NewDispatcher(p Processor, concurrency int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		processor: p,
		sem:       make(chan struct{}, concurrency),
		timeout:   timeout,
		logger:    logger,
	}
}

// Dispatch schedules n. ctx is only used for its values (request id); its
// cancellation does not reach the background work.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := middleware.WithRequestID(context.WithoutCancel(ctx), middleware.GetRequestID(ctx))
	metrics.AddWebhookInFlight(1)

	go func() {
		defer d.wg.Done()
		defer metrics.AddWebhookInFlight(-1)
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("payment notification panicked", "payment_id", n.PaymentID, "panic", p)
			}
		}()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		runCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		// Failures are logged by the processor; nothing is retried here.
		_, _ = d.processor.Reconcile(runCtx, n) //nolint:errcheck
	}()
	return nil
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting notifications and waits for in-flight work or
// for ctx to end, whichever comes first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
