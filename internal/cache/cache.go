// internal/cache/cache.go
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = errors.New("cache: key not found")

// Cache описывает контракт разделяемого key-value хранилища учётных
// данных (refresh-токены, SMS-коды). Все операции атомарны в пределах
// одного ключа; кросс-ключевых транзакций не требуется.
type Cache interface {
	// Set сохраняет значение по ключу с TTL, перезаписывая существующее.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get возвращает значение по ключу или ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Touch продлевает TTL ключа, не меняя значение. Отсутствующий ключ —
	// ErrNotFound.
	Touch(ctx context.Context, key string, ttl time.Duration) error
	// Delete удаляет ключ; отсутствие ключа не является ошибкой.
	Delete(ctx context.Context, key string) error
	// Close закрывает клиент и освобождает ресурсы.
	Close() error
}
