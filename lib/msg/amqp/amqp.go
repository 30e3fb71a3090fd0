// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	log  *zap.Logger

	mu sync.Mutex // guards ch, shared by concurrent handlers
	ch *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string, log *zap.Logger) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp: cannot dial broker: %w", err)
	}

	log.Info("connected to message broker")

	return &Amqp{conn: conn, log: log}, nil
}

// Setup obtains an amqp channel and declares the "ce" ("chain events") topic exchange the scanner publishes events
// to.
func (r *Amqp) Setup() error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(msg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn("cannot close amqp channel", zap.Error(err))
		}

		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// channel returns the shared channel, opening it if needed. Must be called with mu held.
func (r *Amqp) channel() (*amqp.Channel, error) {
	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}

		r.ch = ch
	}

	return r.ch, nil
}

// SendEvents publishes events to the "ce" exchange. It stops at the first event that cannot be published.
func (r *Amqp) SendEvents(scannerID string, evs []types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range evs {
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}

		ch, err := r.channel()
		if err != nil {
			return err
		}

		key := msg.RoutingKey(scannerID, e)
		p := amqp.Publishing{
			Headers:     amqp.Table{"x-event-tx": e.TxHash},
			Body:        body,
			ContentType: "application/json",
		}

		if err = ch.Publish(msg.Exchange, key, false, false, p); err != nil {
			// a failed publish closes the channel
			r.ch = nil

			return fmt.Errorf("amqp: cannot publish %s: %w", key, err)
		}
	}

	return nil
}

// GetEvents consumes the events published by scanner scannerID pushing them to the returned channel. The Mutex
// pointer is provided to ensure the consumed message has been fully dealt with by the caller, so the message is only
// acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(scannerID string, mut *sync.Mutex) (<-chan types.Event, <-chan error, error) {
	r.mu.Lock()
	ch, err := r.channel()
	r.mu.Unlock()

	if err != nil {
		return nil, nil, err
	}

	name := msg.Exchange + "." + scannerID
	if _, err = ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(name, scannerID+".*.*", msg.Exchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := ch.Consume(name, "consumer-"+scannerID, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	evs := make(chan types.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(evs)

		for m := range msgs {
			e, ok := r.decode(m.Body, errs)
			if !ok {
				_ = m.Nack(false, false)

				continue
			}

			evs <- e
			mut.Lock() // wait for the consumer to finish processing the event
			_ = m.Ack(false)
		}
	}()

	return evs, errs, nil
}

// decode unmarshals an event. Decoding errors are reported on errs without blocking: errors the caller is not
// reading are only logged.
func (r *Amqp) decode(body []byte, errs chan<- error) (types.Event, bool) {
	var e types.Event
	if err := json.Unmarshal(body, &e); err != nil {
		select {
		case errs <- err:
		default:
			r.log.Warn("dropping undecodable event", zap.ByteString("body", body), zap.Error(err))
		}

		return e, false
	}

	return e, true
}
