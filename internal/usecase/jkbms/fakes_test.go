package jkbms

import (
	"errors"
	"sync"

	"jkbms-gateway/internal/protocol/jkbms"
	"jkbms-gateway/internal/usecase"
)

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []usecase.Envelope
	reject    bool
}

func (p *recordingPublisher) Dispatch(env usecase.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false
	}
	p.envelopes = append(p.envelopes, env)
	return true
}

func (p *recordingPublisher) all() []usecase.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]usecase.Envelope, len(p.envelopes))
	copy(out, p.envelopes)
	return out
}

func (p *recordingPublisher) ofType(msgType string) []usecase.Envelope {
	var out []usecase.Envelope
	for _, env := range p.all() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

type fakeConn struct {
	mu      sync.Mutex
	addr    string
	written [][]byte
	closed  bool
	session *Session
	failW   bool
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failW {
		return 0, errors.New("broken pipe")
	}
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) SetSession(s *Session) { c.session = s }
func (c *fakeConn) Session() *Session     { return c.session }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, w := range c.written {
		rec, err := jkbms.ParseRelayRecord(w)
		if err == nil && rec.Type == jkbms.RelayCommand {
			out = append(out, rec.Payload)
		}
	}
	return out
}

type fakeLink struct {
	id        string
	fragments chan []byte
	mu        sync.Mutex
	written   [][]byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeLink(id string) *fakeLink {
	return &fakeLink{id: id, fragments: make(chan []byte, 64), closed: make(chan struct{})}
}

func (l *fakeLink) ID() string { return l.id }

func (l *fakeLink) Write(cmd []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, append([]byte(nil), cmd...))
	return nil
}

func (l *fakeLink) Fragments() <-chan []byte { return l.fragments }

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		close(l.fragments)
	})
	return nil
}

func (l *fakeLink) writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.written...)
}
