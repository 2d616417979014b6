// Worker consumes session events from Kafka and delivers push notifications
// through the push gateway. Set KAFKA_BROKERS, SESSION_EVENTS_TOPIC,
// KAFKA_GROUP_ID, and PUSH_GATEWAY_URL.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"twentymin-coach/backend/internal/config"
	"twentymin-coach/backend/internal/notify"
	"twentymin-coach/backend/internal/session/event"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	push := notify.NewPushClient(cfg.PushGatewayURL, cfg.PushGatewayAPIKey)
	if push == nil {
		log.Fatal("worker: PUSH_GATEWAY_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SessionEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s), pushing to %s",
		cfg.SessionEventsTopic, cfg.KafkaGroupID, cfg.PushGatewayURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		var p event.Payload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			log.Printf("worker: skipping undecodable message at offset %d: %v", msg.Offset, err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := push.Dispatch(pushCtx, p); err != nil {
			log.Printf("worker: push dispatch failed for %s: %v", p.Event, err)
		}
		pushCancel()
	}
}
