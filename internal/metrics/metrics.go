// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NoimitLi/smart-campus-server/pkg/serviceid"
)

// Метрики домена. Регистрируются на default-реестре через promauto.
var (
	LoginTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "auth",
		Name:      "login_total",
		Help:      "Login attempts by method and outcome",
	}, []string{"service", "method", "status"})

	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "auth",
		Name:      "refresh_total",
		Help:      "Refresh attempts by outcome",
	}, []string{"service", "status"})

	IssuedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "auth",
		Name:      "issued_tokens_total",
		Help:      "Issued JWT tokens by type",
	}, []string{"service", "token_type"})

	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "campus",
		Subsystem: "realtime",
		Name:      "active_connections",
		Help:      "Currently registered websocket connections by channel",
	}, []string{"service", "channel"})

	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "realtime",
		Name:      "messages_routed_total",
		Help:      "Chat messages routed by type and outcome",
	}, []string{"service", "type", "status"})

	NotificationsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campus",
		Subsystem: "realtime",
		Name:      "notifications_pushed_total",
		Help:      "Notifications delivered or stored for offline recipients",
	}, []string{"service", "delivery"})
)

var serviceName = "unknown"

func init() {
	serviceid.RegisterLabelSetter(func(name string) {
		serviceName = name
	})
}

// Service возвращает текущее имя сервиса для label "service".
func Service() string { return serviceName }
