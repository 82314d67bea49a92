package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareRequestQueue(channel *amqp.Channel, queue, deadLetterExchange string) error {
	var args amqp.Table
	if deadLetterExchange != "" {
		if err := channel.ExchangeDeclare(deadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead letter exchange %s: %w", deadLetterExchange, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": deadLetterExchange}
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
	}
	return nil
}

func declareEventsExchange(channel *amqp.Channel, exchange string) error {
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", exchange, err)
	}
	return nil
}

// RabbitMQPublisher publishes multipart messages either to the events fanout
// exchange or straight to the request queue through the default exchange.
type RabbitMQPublisher struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	exchange   string
	routingKey string
	declare    func(*amqp.Channel) error
	destructor sync.Once
	closed     chan struct{}
}

// NewEventPublisher publishes to a fanout exchange, every bound subscriber
// receives every event.
func NewEventPublisher(rabbitMQURL, exchange string) (*RabbitMQPublisher, error) {
	return newRabbitMQPublisher(rabbitMQURL, exchange, "", func(ch *amqp.Channel) error {
		return declareEventsExchange(ch, exchange)
	})
}

// NewRequestPublisher pushes requests onto the work queue consumed by the
// translator.
func NewRequestPublisher(rabbitMQURL, queue, deadLetterExchange string) (*RabbitMQPublisher, error) {
	return newRabbitMQPublisher(rabbitMQURL, "", queue, func(ch *amqp.Channel) error {
		return declareRequestQueue(ch, queue, deadLetterExchange)
	})
}

func newRabbitMQPublisher(url, exchange, routingKey string, declare func(*amqp.Channel) error) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		declare:    declare,
		closed:     make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	var err error
	p.conn, err = connectToRabbitMQ(p.url)
	if err != nil {
		return err
	}

	p.channel, err = p.conn.Channel()
	if err != nil {
		p.conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := p.declare(p.channel); err != nil {
		p.conn.Close()
		return err
	}

	slog.Info("rabbitmq publisher channel opened", "exchange", p.exchange, "routing_key", p.routingKey)

	go p.handleReconnect(p.channel)

	return nil
}

func (p *RabbitMQPublisher) handleReconnect(channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	err, ok := <-notifyClose
	if !ok {
		slog.Info("rabbitmq publisher channel closed")
		return
	}

	select {
	case <-p.closed:
		return
	default:
	}

	slog.Warn("rabbitmq publisher connection lost, attempting to reconnect", "error", err)

	p.connLock.Lock()
	defer p.connLock.Unlock()

	p.channel = nil
	p.conn = nil
	for {
		if p.connect() == nil {
			slog.Info("successfully reconnected rabbitmq publisher")
			return
		}
		select {
		case <-p.closed:
			return
		case <-time.After(RetryDelay * 10):
		}
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, frames [][]byte) error {
	p.connLock.RLock()
	defer p.connLock.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return ErrClosed
	}

	body, headers := joinFrames(frames)

	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  FramesContentType,
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish message, potential connection issue", "exchange", p.exchange, "routing_key", p.routingKey, "error", err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		close(p.closed)

		p.connLock.RLock()
		defer p.connLock.RUnlock()
		if p.conn == nil {
			return
		}
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type rabbitMQDelivery struct {
	d      amqp.Delivery
	frames [][]byte
}

func (t *rabbitMQDelivery) Frames() [][]byte {
	return t.frames
}

func (t *rabbitMQDelivery) Ack() error {
	return t.d.Ack(false)
}

// Reject drops the message without requeue, routing it to the dead letter
// exchange when the queue has one.
func (t *rabbitMQDelivery) Reject() error {
	return t.d.Reject(false)
}

type RabbitMQReceiver struct {
	deliveries chan Delivery
	url        string
	prefetch   int
	declare    func(*amqp.Channel) (string, error)
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRequestReceiver consumes the durable request queue.
func NewRequestReceiver(rabbitMQURL, queue, deadLetterExchange string, prefetch int) (*RabbitMQReceiver, error) {
	return newRabbitMQReceiver(rabbitMQURL, prefetch, func(ch *amqp.Channel) (string, error) {
		if err := declareRequestQueue(ch, queue, deadLetterExchange); err != nil {
			return "", err
		}
		return queue, nil
	})
}

// NewEventSubscriber binds an exclusive queue to the events exchange so the
// caller receives every published event.
func NewEventSubscriber(rabbitMQURL, exchange string) (*RabbitMQReceiver, error) {
	return newRabbitMQReceiver(rabbitMQURL, 0, func(ch *amqp.Channel) (string, error) {
		if err := declareEventsExchange(ch, exchange); err != nil {
			return "", err
		}
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", fmt.Errorf("failed to declare subscriber queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
			return "", fmt.Errorf("failed to bind subscriber queue: %w", err)
		}
		return q.Name, nil
	})
}

func newRabbitMQReceiver(url string, prefetch int, declare func(*amqp.Channel) (string, error)) (*RabbitMQReceiver, error) {
	c := &RabbitMQReceiver{
		deliveries: make(chan Delivery),
		url:        url,
		prefetch:   prefetch,
		declare:    declare,
		stop:       make(chan struct{}),
	}

	if err := c.receive(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		frames, err := splitFrames(d.Body, d.Headers)
		if err != nil {
			slog.Error("discarding message with invalid framing", "error", err)
			if err := d.Reject(false); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			continue
		}

		select {
		case c.deliveries <- &rabbitMQDelivery{d: d, frames: frames}:
		case <-c.stop:
			return
		}
	}
}

func (c *RabbitMQReceiver) receive() error {
	conn, err := connectToRabbitMQ(c.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if c.prefetch > 0 {
		if err := channel.Qos(c.prefetch, 0, false); err != nil {
			slog.Error("failed to set channel qos", "error", err)
			conn.Close()
			return fmt.Errorf("failed to set channel qos: %w", err)
		}
	}

	queue, err := c.declare(channel)
	if err != nil {
		conn.Close()
		return err
	}

	// Event subscribers consume with auto-ack, they never redeliver.
	autoAck := c.prefetch == 0
	msgs, err := channel.Consume(queue, "", autoAck, false, false, false, nil)
	if err != nil {
		slog.Error("failed to consume from rabbitmq queue", "queue", queue, "error", err)
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue, err)
	}

	go c.consume(msgs)
	go c.handleReconnect(conn, channel)

	return nil
}

func (c *RabbitMQReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq consumer channel closed")
			return
		}

		slog.Warn("rabbitmq consumer connection lost, attempting to reconnect", "error", err)

		for {
			if c.receive() == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			select {
			case <-c.stop:
				return
			case <-time.After(RetryDelay * 10):
			}
		}
	case <-c.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
		return
	}
}

func (c *RabbitMQReceiver) Deliveries() <-chan Delivery {
	return c.deliveries
}

func (c *RabbitMQReceiver) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
