// pkg/serviceid/serviceid.go
package serviceid

import "sync"

var (
	mu      sync.Mutex
	setters []func(string)
	current = "unknown"
)

// RegisterLabelSetter регистрирует подсистему, которой нужно имя сервиса
// для метрик (backoff, kafka и т.п.). Вызывается из init() пакетов.
func RegisterLabelSetter(fn func(string)) {
	mu.Lock()
	defer mu.Unlock()
	setters = append(setters, fn)
	fn(current)
}

// InitServiceName задаёт единое имя сервиса для всех подсистем.
// Нужно вызывать в начале Run() до любых попыток отправки метрик.
func InitServiceName(name string) {
	mu.Lock()
	defer mu.Unlock()
	current = name
	for _, fn := range setters {
		fn(name)
	}
}
