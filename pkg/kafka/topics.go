package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/payment-recon/pkg/logger"
)

// TopicConfig описывает параметры создаваемого топика.
type TopicConfig struct {
	// Name - имя топика.
	Name string

	// Partitions - количество партиций.
	Partitions int

	// ReplicationFactor - фактор репликации.
	ReplicationFactor int
}

// DefaultTopics возвращает топики, необходимые сервису сверки.
// Параметры рассчитаны на локальное окружение с одним брокером,
// в production топики создаются средствами инфраструктуры.
func DefaultTopics() []TopicConfig {
	return []TopicConfig{
		{Name: TopicOrderEvents, Partitions: 3, ReplicationFactor: 1},
		{Name: TopicDLQ, Partitions: 1, ReplicationFactor: 1},
	}
}

// EnsureTopics создаёт топики, если они ещё не существуют.
// Подключается к первому доступному брокеру, находит контроллер кластера
// и отправляет запрос на создание. Уже существующие топики не являются ошибкой.
func EnsureTopics(brokers []string, topics []TopicConfig) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := dialAnyBroker(brokers)
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer conn.Close()

	// Создавать топики умеет только контроллер кластера.
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка определения контроллера Kafka: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.Dial("tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	for _, t := range topics {
		logger.Info().
			Str("topic", t.Name).
			Int("partitions", t.Partitions).
			Msg("Топик Kafka готов")
	}

	return nil
}

// dialAnyBroker возвращает соединение с первым доступным брокером из списка.
func dialAnyBroker(brokers []string) (*kafka.Conn, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn().
			Err(err).
			Str("broker", addr).
			Msg("Брокер Kafka недоступен, пробуем следующий")
	}
	return nil, lastErr
}
