package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/a3emond/FortisBankSystem/internal/config"
)

func TestRabbitMQPublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, url := startRabbitMQContainer(t, ctx)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate rabbitmq container: %v", err)
		}
	}()

	cfg := config.RabbitMQConfig{URL: url, Exchange: "ledger.events.test"}
	publisher, err := NewRabbitMQPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("NewRabbitMQPublisher() error: %v", err)
	}
	defer publisher.Close()

	// Consumer side: an exclusive queue bound to every transaction event.
	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("failed to connect consumer: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("failed to open consumer channel: %v", err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("failed to declare queue: %v", err)
	}
	if err := ch.QueueBind(queue.Name, "ledger.transaction.#", cfg.Exchange, false, nil); err != nil {
		t.Fatalf("failed to bind queue: %v", err)
	}
	msgs, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("failed to consume: %v", err)
	}

	event := NewTransactionEvent(completedDeposit(t))
	if err := publisher.Send(ctx, event); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.RoutingKey != "ledger.transaction.completed" {
			t.Errorf("routing key = %q, want ledger.transaction.completed", msg.RoutingKey)
		}
		if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
			t.Errorf("content type %q, delivery mode %d", msg.ContentType, msg.DeliveryMode)
		}
		var got TransactionEvent
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		if got.EventID != event.EventID || got.TransactionID != event.TransactionID {
			t.Errorf("received event %+v, want %+v", got, event)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

// startRabbitMQContainer starts a RabbitMQ testcontainer and returns the AMQP URL.
func startRabbitMQContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}

	url, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get rabbitmq url: %v", err)
	}
	return container, url
}
