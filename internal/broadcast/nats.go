package broadcast

import (
	"github.com/nats-io/nats.go"

	"github.com/etaengine/internal/common/logger"
)

// DialNATS opens a NATS connection with reconnect logging. onStatus, when
// non-nil, is invoked with the connection state on every transition.
func DialNATS(url, name string, onStatus func(connected bool), log logger.Logger) (*nats.Conn, error) {
	report := func(connected bool) {
		if onStatus != nil {
			onStatus(connected)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			report(false)
			log.Warn("NATS disconnected", "name", name, "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			report(true)
			log.Info("NATS reconnected", "name", name)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			report(false)
			log.Info("NATS connection closed", "name", name)
		}),
	)
	if err != nil {
		return nil, err
	}
	report(true)
	return nc, nil
}

// NATSSubscriber delivers broadcast payloads by publishing them to a NATS
// subject. Several subscribers may share one connection; Close never closes
// the shared connection.
type NATSSubscriber struct {
	id      string
	subject string
	nc      *nats.Conn
}

func NewNATSSubscriber(nc *nats.Conn, id, subject string) *NATSSubscriber {
	return &NATSSubscriber{id: id, subject: subject, nc: nc}
}

func (s *NATSSubscriber) ID() string { return s.id }

func (s *NATSSubscriber) Send(payload []byte) error {
	return s.nc.Publish(s.subject, payload)
}

func (s *NATSSubscriber) Close() {}
