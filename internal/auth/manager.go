// internal/auth/manager.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/cache"
	"github.com/NoimitLi/smart-campus-server/internal/metrics"
	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/internal/token"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

const refreshKeyPrefix = "refresh_token:"

// Config задаёт времена жизни токенов и порог неактивности.
type Config struct {
	// SlidingWindow — максимальная пауза между обращениями, после которой
	// refresh отклоняется даже при живом токене.
	SlidingWindow time.Duration `mapstructure:"sliding_window"`
	// BcryptTimeout ограничивает время на сверку пароля.
	BcryptTimeout time.Duration `mapstructure:"bcrypt_timeout"`

	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

func (c *Config) ApplyDefaults() {
	if c.SlidingWindow <= 0 {
		c.SlidingWindow = 7 * 24 * time.Hour
	}
	if c.BcryptTimeout <= 0 {
		c.BcryptTimeout = 200 * time.Millisecond
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
}

func (c Config) Validate() error {
	if c.SlidingWindow < time.Minute {
		return fmt.Errorf("auth: sliding_window too small: %s", c.SlidingWindow)
	}
	return nil
}

// Session — результат успешного входа.
type Session struct {
	User         *storage.User
	Role         *storage.Role
	Permissions  []string
	AccessToken  string
	RefreshToken string
}

// Manager реализует dual-token аутентификацию: короткоживущий access
// (stateless JWT) и долгоживущий refresh, привязанный к единственной
// записи в кеше на пользователя.
type Manager struct {
	cfg   Config
	codec token.Codec
	cache cache.Cache
	users storage.UserDirectory
	sms   *SmsService
	log   *logger.Logger

	now func() time.Time
}

func NewManager(cfg Config, codec token.Codec, c cache.Cache, users storage.UserDirectory, sms *SmsService, log *logger.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		codec: codec,
		cache: c,
		users: users,
		sms:   sms,
		log:   log.Named("auth"),
		now:   time.Now,
	}, nil
}

// Login проверяет учётные данные и открывает новую сессию. Повторный
// вход перезаписывает refresh-токен в кеше: активна ровно одна сессия
// на пользователя.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	ctx, span := otel.Tracer("auth").Start(ctx, "Login",
		trace.WithAttributes(attribute.String("method", creds.method())))
	defer span.End()

	if err := creds.validate(); err != nil {
		metrics.LoginTotal.WithLabelValues(metrics.Service(), creds.method(), "invalid").Inc()
		return nil, err
	}

	user, err := m.authenticate(ctx, creds)
	if err != nil {
		span.RecordError(err)
		metrics.LoginTotal.WithLabelValues(metrics.Service(), creds.method(), "denied").Inc()
		return nil, err
	}

	role, perms, err := m.users.RoleAndPermissions(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: role lookup: %v", apperr.ErrServer, err)
	}

	sub := token.Subject{
		UserID:    user.ID,
		Username:  user.Username,
		LastLogin: m.now(),
	}
	if role != nil {
		sub.RoleID = role.ID
	}

	access, _, err := m.codec.Generate(sub, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", apperr.ErrServer, err)
	}
	refresh, _, err := m.codec.Generate(sub, token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", apperr.ErrServer, err)
	}
	metrics.IssuedTokens.WithLabelValues(metrics.Service(), string(token.AccessToken)).Inc()
	metrics.IssuedTokens.WithLabelValues(metrics.Service(), string(token.RefreshToken)).Inc()

	// Set перезаписывает прошлую сессию; старый refresh с этого момента
	// мёртв, хотя его подпись ещё валидна.
	if err := m.cache.Set(ctx, refreshKeyPrefix+user.ID, refresh, m.cfg.RefreshTTL); err != nil {
		return nil, fmt.Errorf("%w: refresh store: %v", apperr.ErrServer, err)
	}

	if err := m.users.TouchLastActive(ctx, user.ID, m.now()); err != nil {
		m.log.Warn("touch last_active failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	metrics.LoginTotal.WithLabelValues(metrics.Service(), creds.method(), "ok").Inc()
	m.log.Info("login", zap.String("user_id", user.ID), zap.String("method", creds.method()))

	return &Session{
		User:         user,
		Role:         role,
		Permissions:  perms,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (m *Manager) authenticate(ctx context.Context, creds Credentials) (*storage.User, error) {
	switch c := creds.(type) {
	case PasswordCredentials:
		user, err := m.users.FindByUsername(ctx, c.Username)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrAuthFailed
		}
		if err != nil {
			return nil, fmt.Errorf("%w: user lookup: %v", apperr.ErrServer, err)
		}
		if err := m.comparePassword(ctx, user.PasswordHash, c.Password); err != nil {
			return nil, err
		}
		return user, nil

	case PhoneCredentials:
		if err := m.sms.Verify(ctx, c.Phone, c.Code); err != nil {
			return nil, err
		}
		user, err := m.users.FindByPhone(ctx, c.Phone)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrAuthFailed
		}
		if err != nil {
			return nil, fmt.Errorf("%w: user lookup: %v", apperr.ErrServer, err)
		}
		return user, nil

	default:
		return nil, apperr.ErrInvalidPayload
	}
}

// comparePassword выполняет bcrypt-сверку в отдельной горутине, чтобы
// медленный хеш не держал запрос дольше BcryptTimeout.
func (m *Manager) comparePassword(ctx context.Context, hash, password string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.BcryptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperr.ErrAuthFailed
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: password check timed out", apperr.ErrServer)
	}
}

// Refresh обменивает живой refresh-токен на новый access. Сам
// refresh-токен не ротируется: клиент продолжает предъявлять тот же
// до конца сессии. Проверки идут строго по порядку, и провал любой из
// них скрывает от клиента, какая именно не прошла.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, error) {
	ctx, span := otel.Tracer("auth").Start(ctx, "Refresh")
	defer span.End()

	// 1. Криптографическая валидность и тип.
	claims, err := m.codec.Parse(refreshToken)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "bad_token").Inc()
		return "", apperr.ErrTokenInvalid
	}
	if claims.TokenType != token.RefreshToken {
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "bad_token").Inc()
		return "", apperr.ErrTokenInvalid
	}

	// 2. Токен обязан совпадать с единственным записанным в кеше:
	// logout или повторный login делают его недействительным.
	stored, err := m.cache.Get(ctx, refreshKeyPrefix+claims.UserID)
	if errors.Is(err, cache.ErrNotFound) {
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "revoked").Inc()
		return "", apperr.ErrTokenInvalid
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: refresh lookup: %v", apperr.ErrServer, err)
	}
	if stored != refreshToken {
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "revoked").Inc()
		return "", apperr.ErrTokenInvalid
	}

	// 3. Пользователь должен существовать.
	user, err := m.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "no_user").Inc()
		return "", apperr.ErrTokenInvalid
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: user lookup: %v", apperr.ErrServer, err)
	}

	// 4. Скользящее окно: долгое молчание закрывает сессию.
	if m.now().Sub(user.LastActiveAt) > m.cfg.SlidingWindow {
		if err := m.cache.Delete(ctx, refreshKeyPrefix+user.ID); err != nil {
			m.log.Warn("stale session cleanup failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		metrics.RefreshTotal.WithLabelValues(metrics.Service(), "stale").Inc()
		return "", apperr.ErrTokenInvalid
	}

	role, _, err := m.users.RoleAndPermissions(ctx, user.ID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: role lookup: %v", apperr.ErrServer, err)
	}
	sub := token.Subject{
		UserID:    user.ID,
		Username:  user.Username,
		LastLogin: m.now(),
	}
	if role != nil {
		sub.RoleID = role.ID
	}
	access, _, err := m.codec.Generate(sub, token.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: access token: %v", apperr.ErrServer, err)
	}
	metrics.IssuedTokens.WithLabelValues(metrics.Service(), string(token.AccessToken)).Inc()

	// Активность продлевает и окно, и TTL записи в кеше.
	if err := m.users.TouchLastActive(ctx, user.ID, m.now()); err != nil {
		m.log.Warn("touch last_active failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err := m.cache.Touch(ctx, refreshKeyPrefix+user.ID, m.cfg.RefreshTTL); err != nil {
		m.log.Warn("refresh ttl extend failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	metrics.RefreshTotal.WithLabelValues(metrics.Service(), "ok").Inc()
	return access, nil
}

// Logout гасит сессию пользователя. Идемпотентен: выход без активной
// сессии — не ошибка. Уже выданные access-токены живут до истечения.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	ctx, span := otel.Tracer("auth").Start(ctx, "Logout",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if err := m.cache.Delete(ctx, refreshKeyPrefix+userID); err != nil {
		// Сессия истечёт сама по TTL; logout с точки зрения клиента удался.
		span.RecordError(err)
		m.log.Error("refresh delete failed", zap.String("user_id", userID), zap.Error(err))
	}
	m.log.Info("logout", zap.String("user_id", userID))
	return nil
}

// VerifyAccess валидирует access-токен без обращений к кешу или БД.
// Безопасен для вызова на каждом запросе.
func (m *Manager) VerifyAccess(raw string) (*token.Claims, error) {
	claims, err := m.codec.Parse(raw)
	if err != nil {
		return nil, apperr.ErrTokenInvalid
	}
	if claims.TokenType != token.AccessToken {
		return nil, apperr.ErrTokenInvalid
	}
	return claims, nil
}
