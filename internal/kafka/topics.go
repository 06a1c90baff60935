package kafka

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topics carrying the observable raffle events.
const (
	TopicRaffleCreated    = "raffly.raffle.created"
	TopicEntriesPurchased = "raffly.entries.purchased"
	TopicWinnerSelected   = "raffly.winner.selected"
	TopicRaffleCancelled  = "raffly.raffle.cancelled"
	TopicRefundIssued     = "raffly.refund.issued"
)

func AllTopics() []string {
	return []string{
		TopicRaffleCreated,
		TopicEntriesPurchased,
		TopicWinnerSelected,
		TopicRaffleCancelled,
		TopicRefundIssued,
	}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		topicConfigs := []kafka.TopicConfig{
			{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}

		err = controllerConn.CreateTopics(topicConfigs...)
		if err != nil {
			if err.Error() == "kafka server: topic already exists" {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
			// Keep going; a failed topic shows up again on first publish.
		}
	}

	// Give the controller a moment to propagate the new topics.
	time.Sleep(1 * time.Second)
	return nil
}
