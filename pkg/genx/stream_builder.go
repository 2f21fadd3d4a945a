package genx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrStreamClosed is returned by Add after the consumer closed the stream.
var ErrStreamClosed = errors.New("genx: stream closed")

type StreamEvent struct {
	Chunk   *MessageChunk
	Status  Status
	Usage   Usage
	Refusal string
	Error   error
}

// StreamBuilder is the producer side of a Stream. A provider goroutine adds
// chunks and finishes with exactly one of Done, Truncated, Blocked,
// Unexpected or Abort.
type StreamBuilder struct {
	events    chan *StreamEvent
	closed    chan struct{}
	funcTools map[string]*FuncTool

	writeOnce sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func NewStreamBuilder(mctx ModelContext, size int) *StreamBuilder {
	sb := &StreamBuilder{
		events:    make(chan *StreamEvent, size),
		closed:    make(chan struct{}),
		funcTools: make(map[string]*FuncTool),
	}
	if mctx != nil {
		for tool := range mctx.Tools() {
			switch t := tool.(type) {
			case *FuncTool:
				sb.funcTools[t.Name] = t
			}
		}
	}
	return sb
}

func (sb *StreamBuilder) Done(stats Usage) error {
	return sb.finish(&StreamEvent{Status: StatusDone, Usage: stats})
}

func (sb *StreamBuilder) Truncated(stats Usage) error {
	return sb.finish(&StreamEvent{Status: StatusTruncated, Usage: stats})
}

func (sb *StreamBuilder) Blocked(stats Usage, refusal string) error {
	return sb.finish(&StreamEvent{Status: StatusBlocked, Usage: stats, Refusal: refusal})
}

func (sb *StreamBuilder) Unexpected(stats Usage, err error) error {
	return sb.finish(&StreamEvent{Status: StatusError, Usage: stats, Error: err})
}

// Add queues chunks. Tool calls are bound to the declared tool of the same
// name; calls to undeclared tools are dropped.
func (sb *StreamBuilder) Add(chunks ...*MessageChunk) error {
	for _, c := range chunks {
		if c.ToolCall != nil && c.ToolCall.FuncCall != nil {
			t, ok := sb.funcTools[c.ToolCall.FuncCall.Name]
			if !ok {
				slog.Warn("genx/stream_builder: tool call not found", "name", c.ToolCall.FuncCall.Name)
				continue
			}
			c.ToolCall.FuncCall.tool = t
		}
		if err := sb.send(&StreamEvent{Chunk: c}); err != nil {
			return err
		}
	}
	return nil
}

// Abort ends the stream with err. Pending chunks are discarded.
func (sb *StreamBuilder) Abort(err error) error {
	return sb.closeWithError(err)
}

func (sb *StreamBuilder) Stream() Stream {
	return (*streamImpl)(sb)
}

func (sb *StreamBuilder) finish(evt *StreamEvent) error {
	if err := sb.send(evt); err != nil {
		return err
	}
	sb.writeOnce.Do(func() { close(sb.events) })
	return nil
}

func (sb *StreamBuilder) send(evt *StreamEvent) error {
	select {
	case <-sb.closed:
		return sb.closeErr()
	default:
	}
	select {
	case sb.events <- evt:
		return nil
	case <-sb.closed:
		return sb.closeErr()
	}
}

func (sb *StreamBuilder) closeWithError(err error) error {
	if err == nil {
		err = ErrStreamClosed
	}
	sb.closeOnce.Do(func() {
		sb.mu.Lock()
		sb.err = err
		sb.mu.Unlock()
		close(sb.closed)
	})
	return nil
}

func (sb *StreamBuilder) closeErr() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.err == nil {
		return ErrStreamClosed
	}
	return sb.err
}

type streamImpl StreamBuilder

func (s *streamImpl) builder() *StreamBuilder {
	return (*StreamBuilder)(s)
}

func (s *streamImpl) Next() (*MessageChunk, error) {
	sb := s.builder()
	var (
		evt *StreamEvent
		ok  bool
	)
	select {
	case <-sb.closed:
		return nil, sb.closeErr()
	case evt, ok = <-sb.events:
	}
	if !ok {
		return nil, sb.closeErr()
	}
	var err error
	switch evt.Status {
	case StatusOK:
		return evt.Chunk, nil
	case StatusDone:
		err = Done(evt.Usage)
	case StatusTruncated:
		err = Truncated(evt.Usage)
	case StatusBlocked:
		err = Blocked(evt.Usage, evt.Refusal)
	case StatusError:
		err = Error(evt.Usage, evt.Error)
	default:
		err = fmt.Errorf("unexpected stream status: %v", evt.Status)
	}
	sb.closeWithError(err)
	return nil, err
}

func (s *streamImpl) Close() error {
	return s.builder().closeWithError(ErrStreamClosed)
}

func (s *streamImpl) CloseWithError(err error) error {
	return s.builder().closeWithError(err)
}
