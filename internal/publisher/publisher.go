package publisher

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ChangeSink receives LED transitions
type ChangeSink interface {
	PublishChange(c Change) error
	Close() error
}

// FrameSink receives annotated frames. The frame is only valid during the call.
type FrameSink interface {
	PublishFrame(frame gocv.Mat) error
	Close() error
}

// Stats tracks publisher throughput
type Stats struct {
	Changes uint64
	Frames  uint64
	Errors  uint64
}

// Publisher drains the outbound queue and dispatches every message to the
// registered sinks.
type Publisher struct {
	queue  *Queue
	logger *zap.Logger

	changeSinks []ChangeSink
	frameSinks  []FrameSink

	mu    sync.Mutex
	stats Stats
}

func New(queue *Queue, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{queue: queue, logger: logger}
}

// AddChangeSink registers a change sink. Must be called before Run.
func (p *Publisher) AddChangeSink(s ChangeSink) { p.changeSinks = append(p.changeSinks, s) }

// AddFrameSink registers a frame sink. Must be called before Run.
func (p *Publisher) AddFrameSink(s FrameSink) { p.frameSinks = append(p.frameSinks, s) }

// Run consumes the queue until it is closed and drained. Cancelling ctx
// closes the queue.
func (p *Publisher) Run(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.queue.Close()
		case <-stop:
		}
	}()

	for {
		msg, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.dispatch(msg)
	}
}

func (p *Publisher) dispatch(msg Message) {
	if msg.Change != nil {
		for _, s := range p.changeSinks {
			if err := s.PublishChange(*msg.Change); err != nil {
				p.countError()
				p.logger.Warn("failed to publish change",
					zap.String("led", msg.Change.LedID),
					zap.Error(err))
			}
		}
		p.mu.Lock()
		p.stats.Changes++
		p.mu.Unlock()
	}

	if msg.Frame != nil {
		for _, s := range p.frameSinks {
			if err := s.PublishFrame(*msg.Frame); err != nil {
				p.countError()
				p.logger.Debug("failed to publish frame", zap.Error(err))
			}
		}
		msg.Frame.Close()
		p.mu.Lock()
		p.stats.Frames++
		p.mu.Unlock()
	}
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}

// Stats returns publisher counters
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close releases whatever is still queued and closes every sink.
func (p *Publisher) Close() error {
	if n := p.queue.Len(); n > 0 {
		p.logger.Warn("discarding unpublished messages", zap.Int("count", n))
	}
	p.queue.Discard()

	var err error
	for _, s := range p.changeSinks {
		err = multierr.Append(err, s.Close())
	}
	for _, s := range p.frameSinks {
		if _, dup := s.(ChangeSink); dup && p.hasChangeSink(s) {
			continue
		}
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (p *Publisher) hasChangeSink(s FrameSink) bool {
	for _, c := range p.changeSinks {
		if any(c) == any(s) {
			return true
		}
	}
	return false
}
