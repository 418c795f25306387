package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SessionCookieName: имя подписанного session cookie.
const SessionCookieName = "login"

// Ошибки разбора session cookie.
var (
	ErrMalformedSession = errors.New("некорректный формат session cookie")
	ErrBadSignature     = errors.New("неверная подпись session cookie")
)

// SessionSigner подписывает и проверяет session cookie вида
// "<unix-ms>.<base64(HMAC-SHA256(unix-ms))>".
// Состояние на сервере не хранится, кроме секрета.
type SessionSigner struct {
	secret []byte
	maxAge time.Duration
	secure bool
}

// NewSessionSigner создаёт подписчик session cookie.
func NewSessionSigner(secret string, maxAge time.Duration, secure bool) *SessionSigner {
	return &SessionSigner{secret: []byte(secret), maxAge: maxAge, secure: secure}
}

// MaxAge возвращает максимальный возраст сессии.
func (s *SessionSigner) MaxAge() time.Duration {
	return s.maxAge
}

// Sign возвращает значение cookie для момента создания issued.
func (s *SessionSigner) Sign(issued time.Time) string {
	value := strconv.FormatInt(issued.UnixMilli(), 10)
	return value + "." + s.signature(value)
}

// Verify проверяет подпись и возвращает момент создания сессии.
// Возраст не проверяется.
func (s *SessionSigner) Verify(cookie string) (time.Time, error) {
	idx := strings.LastIndexByte(cookie, '.')
	if idx <= 0 || idx == len(cookie)-1 {
		return time.Time{}, ErrMalformedSession
	}
	value, sig := cookie[:idx], cookie[idx+1:]

	if !hmac.Equal([]byte(sig), []byte(s.signature(value))) {
		return time.Time{}, ErrBadSignature
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedSession
	}
	return time.UnixMilli(ms), nil
}

// SetCookie выставляет свежий session cookie в ответ.
func (s *SessionSigner) SetCookie(w http.ResponseWriter, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.Sign(now),
		Path:     "/",
		MaxAge:   int(s.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteNoneMode,
	})
}

// FromRequest возвращает сырое значение session cookie ("" если его нет).
func FromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *SessionSigner) signature(value string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
