package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Entry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Category string         `json:"category,omitempty"`
	Message  string         `json:"message"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Sink keeps the most recent entries in a ring buffer and fans new entries
// out to subscribers. Slow subscribers miss entries rather than block logging.
type Sink struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	full   bool
	subs   map[int]chan Entry
	subID  int
	closed bool
}

func NewSink(size int) *Sink {
	if size <= 0 {
		size = 500
	}
	return &Sink{buf: make([]Entry, size), subs: map[int]chan Entry{}}
}

func (s *Sink) add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf[s.next] = e
	s.next = (s.next + 1) % len(s.buf)
	if s.next == 0 {
		s.full = true
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything buffered.
func (s *Sink) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Entry
	if s.full {
		all = append(all, s.buf[s.next:]...)
	}
	all = append(all, s.buf[:s.next]...)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Subscribe returns a channel of new entries and a cancel func. The channel
// is closed on cancel or when the sink closes.
func (s *Sink) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.subID
	s.subID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops recording and closes every subscriber channel. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Handler wraps next so records also land in the sink. next may be nil.
func (s *Sink) Handler(next slog.Handler) slog.Handler {
	return &sinkHandler{sink: s, next: next}
}

type sinkHandler struct {
	sink  *Sink
	next  slog.Handler
	attrs []slog.Attr
	group string
}

func (h *sinkHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.next != nil {
		return h.next.Enabled(ctx, level)
	}
	return level >= slog.LevelInfo
}

func (h *sinkHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	collect := func(a slog.Attr) {
		if a.Key == CategoryKey {
			e.Category = a.Value.String()
			return
		}
		if e.Attrs == nil {
			e.Attrs = map[string]any{}
		}
		e.Attrs[a.Key] = a.Value.Resolve().Any()
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.qualify(a))
		return true
	})
	if v, ok := e.Attrs["error"]; ok {
		if err, isErr := v.(error); isErr {
			e.Attrs["error"] = err.Error()
		}
	}
	h.sink.add(e)
	if h.next != nil {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.qualify(a))
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group == "" {
		c.group = name
	} else {
		c.group = c.group + "." + name
	}
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

func (h *sinkHandler) qualify(a slog.Attr) slog.Attr {
	if h.group == "" {
		return a
	}
	return slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
}
