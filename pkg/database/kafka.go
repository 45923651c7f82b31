package database

import (
	"context"
	"fmt"
	"time"

	"trackus_chat/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 確認 broker 可連線後建立 Kafka Writer
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if len(k.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	attempts := max(k.RetryCount, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn *kafka.Conn
		conn, err = kafka.DialContext(context.Background(), "tcp", k.Brokers[0])
		if err == nil {
			conn.Close()
			logger.Log.Info("Kafka broker reachable", zap.Int("attempt", attempt))
			// 同一個 key (room id) 固定分區，維持聊天室內順序
			return &kafka.Writer{
				Addr:                   kafka.TCP(k.Brokers...),
				Topic:                  k.Topic,
				Balancer:               &kafka.Hash{},
				RequiredAcks:           kafka.RequireOne,
				AllowAutoTopicCreation: true,
			}, nil
		}

		logger.Log.Warn("Kafka broker unreachable", zap.Int("attempt", attempt), zap.Int("max", attempts), zap.Error(err))
		if attempt < attempts {
			time.Sleep(k.RetryInterval)
		}
	}

	return nil, fmt.Errorf("kafka writer failed after %d attempts: %w", attempts, err)
}
