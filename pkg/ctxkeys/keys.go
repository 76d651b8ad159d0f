package ctxkeys

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
	PermsKey     contextKey = "permissions"

	IPAddressKey contextKey = "ip_address"
	UserAgentKey contextKey = "user_agent"
)
