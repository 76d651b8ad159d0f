// internal/auth/sms.go
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
	"github.com/NoimitLi/smart-campus-server/internal/cache"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

const (
	smsKeyPrefix  = "sms-code:"
	smsCodeTTL    = 5 * time.Minute
	smsCodeDigits = 6
)

// SmsSender доставляет код на телефон. В dev-окружении используется
// LogSender, в продакшене — адаптер к SMS-провайдеру.
type SmsSender interface {
	Deliver(ctx context.Context, phone, code string) error
}

// LogSender пишет код в лог вместо отправки. Только для разработки.
type LogSender struct {
	Log *logger.Logger
}

func (s LogSender) Deliver(_ context.Context, phone, code string) error {
	s.Log.Info("sms code issued (dev sender)",
		zap.String("phone", phone),
		zap.String("code", code),
	)
	return nil
}

// SmsService выдаёт и проверяет одноразовые коды входа.
type SmsService struct {
	cache  cache.Cache
	sender SmsSender
	log    *logger.Logger
}

func NewSmsService(c cache.Cache, sender SmsSender, log *logger.Logger) *SmsService {
	return &SmsService{cache: c, sender: sender, log: log.Named("sms")}
}

// Send генерирует 6-значный код, сохраняет его на 5 минут и доставляет
// через sender. Повторный вызов перезаписывает предыдущий код.
func (s *SmsService) Send(ctx context.Context, phone string) error {
	if !ValidPhone(phone) {
		return apperr.ErrInvalidPayload
	}

	code, err := generateCode(smsCodeDigits)
	if err != nil {
		return fmt.Errorf("%w: sms code generation: %v", apperr.ErrServer, err)
	}
	if err := s.cache.Set(ctx, smsKeyPrefix+phone, code, smsCodeTTL); err != nil {
		return fmt.Errorf("%w: sms code store: %v", apperr.ErrServer, err)
	}
	if err := s.sender.Deliver(ctx, phone, code); err != nil {
		return fmt.Errorf("%w: sms deliver: %v", apperr.ErrServer, err)
	}
	return nil
}

// Verify сравнивает код и удаляет его при совпадении: каждый код
// одноразовый. Неверный или отсутствующий код — ErrAuthFailed.
func (s *SmsService) Verify(ctx context.Context, phone, code string) error {
	stored, err := s.cache.Get(ctx, smsKeyPrefix+phone)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return apperr.ErrAuthFailed
		}
		return fmt.Errorf("%w: sms code lookup: %v", apperr.ErrServer, err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return apperr.ErrAuthFailed
	}
	if err := s.cache.Delete(ctx, smsKeyPrefix+phone); err != nil {
		// Код уже принят; оставшийся TTL ограничивает окно повторного
		// использования, поэтому не фейлим вход.
		s.log.Warn("sms code delete failed", zap.String("phone", phone), zap.Error(err))
	}
	return nil
}

func generateCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
