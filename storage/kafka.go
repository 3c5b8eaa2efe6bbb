package storage

import (
	"github.com/Shopify/sarama"

	"github.com/cellgraph/cellgraph/cellgraph"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * cellgraph.Kilo

var (
	kafkaProducer sarama.AsyncProducer

	// the topic prefix for mutation logging
	kafkaTopicPrefix string
)

// KafkaConfig describes kafka servers used for mutation logging.
type KafkaConfig struct {
	TopicPrefix string // if supplied, prefixed to any mutation logging topic
	Servers     []string
	BufferSize  int // queue.buffering.max.messages
}

// Initialize sets up the kafka producer for mutation logging.  With no
// servers configured, mutation logging is disabled and LogMutation becomes a
// no-op.
func (kc KafkaConfig) Initialize() error {
	if len(kc.Servers) == 0 {
		cellgraph.Infof("No Kafka server specified.\n")
		return nil
	}
	kafkaTopicPrefix = kc.TopicPrefix

	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}
	var err error
	if kafkaProducer, err = sarama.NewAsyncProducer(kc.Servers, config); err != nil {
		return err
	}

	go func() {
		for err := range kafkaProducer.Errors() {
			cellgraph.Errorf("error on kafka send: %v\n", err)
		}
	}()
	cellgraph.Infof("Kafka topic prefix for mutations: %s\n", kafkaTopicPrefix)
	return nil
}

// KafkaShutdown makes sure that the kafka queue is flushed before stopping.
func KafkaShutdown() {
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			cellgraph.Errorf("Kafka producer had error on close: %v\n", err)
		} else {
			cellgraph.Infof("Successfully shut down kafka producer.\n")
		}
	}
}

// LogMutation asynchronously sends a mutation record to the given topic.
// Failures are logged, never returned: mutation logging must not fail the
// mutation itself.
func LogMutation(topic string, msg []byte) {
	if kafkaProducer == nil {
		return
	}
	if len(msg) > KafkaMaxMessageSize {
		cellgraph.Errorf("Mutation record for topic %q exceeds max kafka message size (%d bytes), dropped\n",
			topic, len(msg))
		return
	}
	kafkaProducer.Input() <- &sarama.ProducerMessage{
		Topic: kafkaTopicPrefix + topic,
		Value: sarama.ByteEncoder(msg),
	}
}
