package natsaudit

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is used when New is given an empty subject.
const DefaultSubject = "refresh.audit"

var ErrNilPublisher = errors.New("nil nats publisher")

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Sink is a goRefresh.AuditSink backed by NATS.
type Sink struct {
	pub     Publisher
	subject string
	log     *zap.Logger
	failed  atomic.Uint64
}

var _ goRefresh.AuditSink = (*Sink)(nil)

func New(pub Publisher, subject string, log *zap.Logger) (*Sink, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{pub: pub, subject: subject, log: log}, nil
}

// Connect dials url and wraps the connection. The returned close func
// drains the connection.
func Connect(url, subject string, log *zap.Logger) (*Sink, func(), error) {
	nc, err := nats.Connect(url, nats.Name("goRefresh-audit"))
	if err != nil {
		return nil, nil, err
	}
	s, err := New(nc, subject, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return s, func() { _ = nc.Drain() }, nil
}

func (s *Sink) Emit(_ context.Context, event goRefresh.AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		s.log.Error("audit event encode failed", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		s.failed.Add(1)
		s.log.Warn("audit publish failed",
			zap.String("subject", s.subject),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Failed reports how many events could not be published.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

func (s *Sink) Subject() string {
	return s.subject
}
