package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaConfig holds configuration for the alert producer.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaNotifier produces alerts to Kafka with key=session_id so all alerts
// for one session land on the same partition.
type KafkaNotifier struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaNotifierFromEnv creates a KafkaNotifier from environment variables.
func NewKafkaNotifierFromEnv() *KafkaNotifier {
	brokersStr := os.Getenv("KAFKA_BROKERS")
	if brokersStr == "" {
		brokersStr = "localhost:9092"
	}
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	config := KafkaConfig{
		Brokers:       brokers,
		Topic:         getEnvOr("KAFKA_TOPIC", "botwarden.alerts"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   getEnvOr("KAFKA_COMPRESSION", ""),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaNotifier{config: config}
}

// NewKafkaNotifier creates a KafkaNotifier with explicit configuration.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

func (n *KafkaNotifier) Start(ctx context.Context) error {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(n.config.Brokers, ","),
		"acks":              n.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if n.config.Compression != "" {
		configMap["compression.type"] = n.config.Compression
	}

	if n.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = n.config.SASLMechanism
		if n.config.SASLUser != "" {
			configMap["sasl.username"] = n.config.SASLUser
		}
		if n.config.SASLPassword != "" {
			configMap["sasl.password"] = n.config.SASLPassword
		}
	}

	if n.config.TLSCAPath != "" {
		if n.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = n.config.TLSCAPath
	}

	if n.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}

	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	n.producer = producer

	go n.handleDeliveryReports(ctx)

	return nil
}

func (n *KafkaNotifier) Emit(a Alert) error {
	if n.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to serialize alert: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &n.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(a.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte(a.Type)},
			{Key: "severity", Value: []byte(a.Severity)},
			{Key: "schema", Value: []byte("v1")},
		},
	}

	if err := n.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce alert: %w", err)
	}

	return nil
}

func (n *KafkaNotifier) Close() error {
	if n.producer == nil {
		return nil
	}

	// Flush any remaining messages (wait up to 10 seconds).
	remaining := n.producer.Flush(10 * 1000)
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining alerts", remaining)
	}

	n.producer.Close()
	return nil
}

func (n *KafkaNotifier) Name() string { return "kafka" }

// handleDeliveryReports processes delivery reports in background.
func (n *KafkaNotifier) handleDeliveryReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.producer.Events():
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					fmt.Fprintf(os.Stderr, "kafka delivery failed: %v\n", e.TopicPartition.Error)
				}
			case kafka.Error:
				fmt.Fprintf(os.Stderr, "kafka error: %v\n", e)
			}
		}
	}
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
