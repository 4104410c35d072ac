package sharedstate

import (
	"context"
	"io"
	"sync"
)

// Broadcaster fans one upstream fetch out to every subscriber requesting
// the same stream key, instead of opening one upstream connection per
// downstream client. The first
// Join for a key is told it is first and must drive the upstream pump
// into the returned Fanout, using the returned context as the fetch's
// lifetime; later joiners just read from their own Subscriber. When the
// last subscriber leaves, that context is canceled.
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*sharedStream
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{streams: make(map[string]*sharedStream)}
}

type sharedStream struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Subscriber receives chunks written to a shared stream's Fanout.
type Subscriber struct {
	ch chan []byte
}

// Next blocks for the next chunk, returning io.EOF once the shared
// stream has ended and ctx.Err() if ctx ends first.
func (s *Subscriber) Next(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fanout is the io.Writer the first subscriber's caller hands to
// streamproxy.Pump; every Write is copied to each currently-joined
// subscriber's channel. A subscriber too slow to keep up has that chunk
// dropped rather than stalling the shared upstream fetch for everyone
// else (unlike streamproxy's bufferedWriter, which blocks once its queue
// is full).
type Fanout struct {
	ss *sharedStream
}

func (f *Fanout) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.ss.mu.Lock()
	for sub := range f.ss.subs {
		select {
		case sub.ch <- cp:
		default:
		}
	}
	f.ss.mu.Unlock()
	return len(p), nil
}

// Join attaches to key's shared stream, creating it off parent if this
// is the first subscriber. fetchCtx is only meaningful when isFirst is
// true: it is the context the caller must run the upstream fetch under,
// and it is canceled once the last subscriber leaves. leave must be
// called (typically deferred) when the subscriber disconnects.
func (b *Broadcaster) Join(parent context.Context, key string) (sub *Subscriber, fanout *Fanout, isFirst bool, fetchCtx context.Context, leave func()) {
	b.mu.Lock()
	ss, exists := b.streams[key]
	isFirst = !exists
	if !exists {
		ctx, cancel := context.WithCancel(parent)
		ss = &sharedStream{subs: make(map[*Subscriber]struct{}), ctx: ctx, cancel: cancel}
		b.streams[key] = ss
	}
	b.mu.Unlock()

	sub = &Subscriber{ch: make(chan []byte, 64)}
	ss.mu.Lock()
	ss.subs[sub] = struct{}{}
	ss.mu.Unlock()

	leave = func() {
		ss.mu.Lock()
		delete(ss.subs, sub)
		empty := len(ss.subs) == 0
		ss.mu.Unlock()
		if empty {
			b.mu.Lock()
			if b.streams[key] == ss {
				delete(b.streams, key)
			}
			b.mu.Unlock()
			ss.cancel()
		}
	}

	return sub, &Fanout{ss: ss}, isFirst, ss.ctx, leave
}
