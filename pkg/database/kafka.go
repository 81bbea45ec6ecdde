package database

import (
	"context"
	"fmt"
	"log"

	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriterWithRetry create a Kafka writer and confirm the connection
// with a probe message
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	var writer *kafka.Writer
	var err error

	for attempt := 1; attempt <= k.RetryCount; attempt++ {
		writer = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  k.Brokers,
			Topic:    k.Topic,
			Balancer: &kafka.LeastBytes{},
		})

		err = writer.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte("ping"),
			Value: []byte("ping"),
		})
		if err == nil {
			log.Printf("kafka writer ready (attempt %d)", attempt)
			return writer, nil
		}

		log.Printf("kafka writer connect failed (attempt %d/%d): %v", attempt, k.RetryCount, err)
		writer.Close()
		time.Sleep(k.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("unable to create kafka writer after %d attempts: %v", k.RetryCount, err)
}

// NewKafkaReader create a Kafka reader for one consumer group
func NewKafkaReader(k KafkaConnection) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.Brokers,
		GroupID: k.GroupID,
		Topic:   k.Topic,
	})
}
