// pkg/kafka/interface.go
//
// Пакет kafka задаёт минимальные контракты обмена сообщениями и не
// зависит от конкретной реализации драйвера.
package kafka

import "context"

// Message представляет запись, полученную из Kafka.
type Message struct {
	Key       []byte // ключ сообщения (может быть nil)
	Value     []byte // полезная нагрузка
	Topic     string // имя топика
	Partition int32  // раздел
	Offset    int64  // смещение
}

// Consumer описывает читателя одного или нескольких топиков.
//
//	Consume(ctx, topics, handler) блокирует, пока:
//	  • контекст не будет отменён;
//	  • либо произойдёт невосстанавливаемая ошибка, которую метод вернёт.
//	Для каждого сообщения вызывается handler; если handler возвращает ошибку,
//	сообщение не коммитится (at-least-once).
type Consumer interface {
	Consume(ctx context.Context, topics []string, handler func(msg *Message) error) error
	Close() error
}

// Producer публикует сообщения в Kafka.
type Producer interface {
	// Publish гарантирует доставку согласно политике RequiredAcks;
	// возможен внутренний retry согласно стратегии back-off.
	Publish(ctx context.Context, topic string, key, value []byte) error
	// Ping проверяет достижимость кластера.
	Ping(ctx context.Context) error
	Close() error
}
