// Prediction watcher: consumes prediction events from Kafka and prints them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"audio-authenticity-service/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicCompleted := flag.String("topic-completed", "audio.prediction.completed", "Completed predictions topic")
	topicFailed := flag.String("topic-failed", "audio.prediction.failed", "Failed predictions topic")
	since := flag.Duration("since", time.Hour, "Replay messages newer than this")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range []string{*topicCompleted, *topicFailed} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consume(ctx, strings.Split(*brokers, ","), topic, *since)
		}(topic)
	}

	log.Printf("Watching %s and %s on %s", *topicCompleted, *topicFailed, *brokers)
	wg.Wait()
}

func consume(ctx context.Context, brokers []string, topic string, since time.Duration) {
	// Partition reader without a consumer group
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Could not seek %s: %v", topic, err)
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}
		line, err := describe(msg.Value)
		if err != nil {
			log.Printf("Skipping message on %s: %v", topic, err)
			continue
		}
		log.Print(line)
	}
}

// describe renders one event payload as a single line.
func describe(payload []byte) (string, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", err
	}

	switch head.EventType {
	case models.EventPredictionCompleted:
		var ev models.PredictionCompleted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("%-4s p=%.4f conf=%.4f %s (%s, %.2fs, model %s)",
			strings.ToUpper(ev.Prediction), ev.Probability, ev.Confidence,
			ev.Filename, ev.RequestID, ev.ProcessingTimeSeconds, ev.ModelVersion), nil
	case models.EventPredictionFailed:
		var ev models.PredictionFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", err
		}
		return fmt.Sprintf("FAIL %s at %s: %s (%s) %s",
			ev.Filename, ev.Stage, ev.ErrorType, ev.RequestID, ev.Message), nil
	default:
		return "", fmt.Errorf("unknown event type %q", head.EventType)
	}
}
