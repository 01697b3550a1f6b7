package events

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/kana-services/internal/comm"
)

// Publisher announces arena activity. Publishing is fire-and-forget: a
// failure is logged and never fails the flow that produced the event.
type Publisher interface {
	Publish(msgType string, payload any)
}

// Conn is the part of *nats.Conn the broker needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Broker struct {
	Conn  Conn
	Topic string
}

func NewBroker(conn Conn, topic string) *Broker {
	return &Broker{Conn: conn, Topic: topic}
}

func (b *Broker) Publish(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[events] unable to marshal %s payload: %s", msgType, err)
		return
	}

	msg := &comm.WSMessage{
		Type: msgType,
		Data: data,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	if err := b.Conn.Publish(b.Topic, raw); err != nil {
		log.Errorf("Error publishing to topic %s: %s", b.Topic, err)
	}
}

type Nop struct{}

func (Nop) Publish(string, any) {}
