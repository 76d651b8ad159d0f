// internal/auth/credentials.go
package auth

import (
	"regexp"

	"github.com/NoimitLi/smart-campus-server/internal/apperr"
)

// phoneRe — формат номеров мобильных операторов материкового Китая.
var phoneRe = regexp.MustCompile(`^1[3-9]\d{9}$`)

// Credentials is a closed set of login methods. Only the two concrete
// types in this package implement it.
type Credentials interface {
	method() string
	validate() error
}

// PasswordCredentials — вход по логину (username или account) и паролю.
type PasswordCredentials struct {
	Username string
	Password string
}

func (PasswordCredentials) method() string { return "password" }

func (c PasswordCredentials) validate() error {
	if c.Username == "" || c.Password == "" {
		return apperr.ErrInvalidPayload
	}
	return nil
}

// PhoneCredentials — вход по номеру телефона и одноразовому SMS-коду.
type PhoneCredentials struct {
	Phone string
	Code  string
}

func (PhoneCredentials) method() string { return "phone" }

func (c PhoneCredentials) validate() error {
	if !phoneRe.MatchString(c.Phone) || c.Code == "" {
		return apperr.ErrInvalidPayload
	}
	return nil
}

// ValidPhone reports whether phone matches the accepted format.
func ValidPhone(phone string) bool { return phoneRe.MatchString(phone) }
