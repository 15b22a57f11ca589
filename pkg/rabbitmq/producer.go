/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * It encapsulates the logic for connecting to RabbitMQ and publishing a message
 * to a specific exchange and routing key.
 *
 * Two event families flow through it: confirmed-donation notifications for
 * downstream consumers (dashboards, webhooks), and reconciliation events
 * emitted when a settled payment could not be recorded in the store.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DonationEventsExchange is the durable topic exchange all donation events
// are published to.
const DonationEventsExchange = "piggybanks.events"

// DonationConfirmedEvent is published once a tip has been settled on-chain
// and recorded.
type DonationConfirmedEvent struct {
	DonationID      string    `json:"donation_id"`
	TxHash          string    `json:"tx_hash"`
	RecipientSlug   string    `json:"recipient_slug"`
	SenderAddress   string    `json:"sender_address"`
	AmountFormatted string    `json:"amount_formatted"`
	TokenSymbol     string    `json:"token_symbol"`
	Network         string    `json:"network"`
	Timestamp       time.Time `json:"timestamp"`
}

// ReconciliationEvent is published when funds moved on-chain but the
// donation row could not be written. Consumers use the transaction hash to
// backfill the record.
type ReconciliationEvent struct {
	TxHash        string    `json:"tx_hash"`
	RecipientSlug string    `json:"recipient_slug"`
	PayoutAddress string    `json:"payout_address"`
	SenderAddress string    `json:"sender_address"`
	AmountRaw     string    `json:"amount_raw"`
	Network       string    `json:"network"`
	FailureReason string    `json:"failure_reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishDonationConfirmed(ctx context.Context, event DonationConfirmedEvent) error
	PublishReconciliationNeeded(ctx context.Context, event ReconciliationEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishDonationConfirmed(ctx context.Context, event DonationConfirmedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"donation confirmed event publish skipped\" tx_hash=%s", event.TxHash)
	return nil
}

func (p *EventProducerFallback) PublishReconciliationNeeded(ctx context.Context, event ReconciliationEvent) error {
	// This event is the only trace of an unrecorded settlement, so the
	// fallback logs it at error level rather than dropping it silently.
	log.Printf("level=error component=rabbitmq_producer mode=fallback msg=\"reconciliation event publish skipped\" tx_hash=%s recipient_slug=%s amount_raw=%s reason=%q",
		event.TxHash, event.RecipientSlug, event.AmountRaw, event.FailureReason)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				// re-declare exchange and retry
				if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// PublishDonationConfirmed publishes a confirmed donation to the donation events exchange.
func (p *EventProducer) PublishDonationConfirmed(ctx context.Context, event DonationConfirmedEvent) error {
	return p.Publish(ctx, DonationEventsExchange, "donation.confirmed", event)
}

// PublishReconciliationNeeded flags a settled payment whose donation record failed to persist.
func (p *EventProducer) PublishReconciliationNeeded(ctx context.Context, event ReconciliationEvent) error {
	return p.Publish(ctx, DonationEventsExchange, "donation.reconciliation_needed", event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
