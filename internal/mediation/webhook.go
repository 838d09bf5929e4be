package mediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

const (
	// webhookWorkerCount is the number of concurrent delivery workers
	webhookWorkerCount = 2
	// webhookQueueSize is the max pending batches before batches are dropped
	webhookQueueSize = 10
	// webhookSendTimeout bounds one batch delivery
	webhookSendTimeout = 2 * time.Second
)

// WebhookConfig configures a WebhookSink
type WebhookConfig struct {
	URL           string
	BatchSize     int
	FlushInterval time.Duration
	Client        *http.Client
}

// WebhookSink batches host events and POSTs them as {"events": [...]} to a
// collector URL. Delivery is best-effort through a bounded worker pool; when
// the queue is full the batch is dropped and counted.
type WebhookSink struct {
	url        string
	httpClient *http.Client
	batchSize  int

	mu     sync.Mutex
	buffer []adapters.Event
	closed bool

	queue      chan []adapters.Event
	stopCh     chan struct{}
	tickerDone chan struct{}
	wg         sync.WaitGroup
	once       sync.Once

	totalEvents    atomic.Int64
	sentEvents     atomic.Int64
	droppedEvents  atomic.Int64
	droppedBatches atomic.Int64
	failedBatches  atomic.Int64
}

// NewWebhookSink starts the delivery workers and the periodic flusher
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}

	s := &WebhookSink{
		url:        cfg.URL,
		httpClient: cfg.Client,
		batchSize:  cfg.BatchSize,
		buffer:     make([]adapters.Event, 0, cfg.BatchSize),
		queue:      make(chan []adapters.Event, webhookQueueSize),
		stopCh:     make(chan struct{}),
		tickerDone: make(chan struct{}),
	}

	for i := 0; i < webhookWorkerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	go s.ticker(cfg.FlushInterval)

	return s
}

func (s *WebhookSink) worker() {
	defer s.wg.Done()
	for events := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), webhookSendTimeout)
		if err := s.send(ctx, events); err != nil {
			s.failedBatches.Add(1)
			logger.Events().Warn().Err(err).Int("events", len(events)).Msg("Event webhook delivery failed")
		}
		cancel()
	}
}

func (s *WebhookSink) ticker(interval time.Duration) {
	defer close(s.tickerDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.mu.Lock()
			s.enqueueLocked(s.swapLocked(0))
			s.mu.Unlock()
		}
	}
}

// swapLocked takes the buffer if it holds at least atLeast events.
// Callers hold mu.
func (s *WebhookSink) swapLocked(atLeast int) []adapters.Event {
	if len(s.buffer) == 0 || len(s.buffer) < atLeast {
		return nil
	}
	events := s.buffer
	s.buffer = make([]adapters.Event, 0, s.batchSize)
	return events
}

// enqueueLocked hands events to the workers without blocking. Callers hold mu.
func (s *WebhookSink) enqueueLocked(events []adapters.Event) {
	if len(events) == 0 {
		return
	}
	if s.closed {
		// Close delivers the remainder synchronously
		s.buffer = append(events, s.buffer...)
		return
	}
	select {
	case s.queue <- events:
	default:
		s.droppedEvents.Add(int64(len(events)))
		s.droppedBatches.Add(1)
	}
}

func (s *WebhookSink) send(ctx context.Context, events []adapters.Event) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event webhook returned status %d", resp.StatusCode)
	}

	s.sentEvents.Add(int64(len(events)))
	return nil
}

// Publish buffers ev; a full buffer is handed to the workers. Events
// published after Close are dropped.
func (s *WebhookSink) Publish(_ context.Context, ev adapters.Event) error {
	s.totalEvents.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.droppedEvents.Add(1)
		return nil
	}
	s.buffer = append(s.buffer, ev)
	s.enqueueLocked(s.swapLocked(s.batchSize))
	return nil
}

// Flush delivers buffered events synchronously
func (s *WebhookSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	events := s.swapLocked(0)
	s.mu.Unlock()
	if len(events) == 0 {
		return nil
	}
	return s.send(ctx, events)
}

// Close stops the flusher, delivers what is left and waits for the workers
func (s *WebhookSink) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
		<-s.tickerDone

		ctx, cancel := context.WithTimeout(context.Background(), webhookSendTimeout)
		defer cancel()
		err = s.Flush(ctx)

		close(s.queue)
		s.wg.Wait()
	})
	return err
}

// WebhookStats reports delivery counters
type WebhookStats struct {
	TotalEvents    int64 `json:"total_events"`
	SentEvents     int64 `json:"sent_events"`
	DroppedEvents  int64 `json:"dropped_events"`
	DroppedBatches int64 `json:"dropped_batches"`
	FailedBatches  int64 `json:"failed_batches"`
	BufferedEvents int   `json:"buffered_events"`
	QueuedBatches  int   `json:"queued_batches"`
}

// Stats returns current delivery counters
func (s *WebhookSink) Stats() WebhookStats {
	s.mu.Lock()
	buffered := len(s.buffer)
	s.mu.Unlock()

	return WebhookStats{
		TotalEvents:    s.totalEvents.Load(),
		SentEvents:     s.sentEvents.Load(),
		DroppedEvents:  s.droppedEvents.Load(),
		DroppedBatches: s.droppedBatches.Load(),
		FailedBatches:  s.failedBatches.Load(),
		BufferedEvents: buffered,
		QueuedBatches:  len(s.queue),
	}
}
