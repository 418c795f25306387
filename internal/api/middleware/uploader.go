// uploader.go: JWT middleware для загрузчиков.
// Токен выдаёт сайт: HS256 с DG_SESSION_SECRET либо RS256 через JWKS,
// если задан DG_UPLOAD_JWKS_URL.
// Claims: id (идентификатор загрузившего), download (право прямого скачивания).
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
)

// contextKey: тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyUploader: ключ для claim id в контексте запроса.
	ContextKeyUploader contextKey = "jwt_uploader"
	// ContextKeyDownload: ключ для claim download в контексте запроса.
	ContextKeyDownload contextKey = "jwt_download"
)

// UploaderClaims: claims токена загрузчика.
type UploaderClaims struct {
	jwt.RegisteredClaims
	ID       string `json:"id"`
	Download bool   `json:"download"`
}

// UploaderAuth: middleware проверки токена загрузчика.
type UploaderAuth struct {
	keyFunc jwt.Keyfunc
	methods []string
	leeway  time.Duration
	logger  *slog.Logger
}

// NewUploaderAuthHS256 создаёт middleware с общим секретом.
func NewUploaderAuthHS256(secret string, leeway time.Duration, logger *slog.Logger) *UploaderAuth {
	key := []byte(secret)
	return &UploaderAuth{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		methods: []string{"HS256"},
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "uploader_auth")),
	}
}

// JWKSConfig: параметры проверки RS256 через JWKS.
type JWKSConfig struct {
	// URL JWKS endpoint
	URL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	Leeway time.Duration
}

// NewUploaderAuthJWKS создаёт middleware с ключами из JWKS endpoint.
// Недоступный при старте endpoint не ошибка: ключи подтянутся при обновлении.
func NewUploaderAuthJWKS(cfg JWKSConfig, logger *slog.Logger) (*UploaderAuth, error) {
	storage, err := jwkset.NewStorageFromHTTP(cfg.URL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.URL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewUploaderAuthWithKeyfunc(k, cfg.Leeway, logger), nil
}

// NewUploaderAuthWithKeyfunc создаёт RS256 middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewUploaderAuthWithKeyfunc(kf keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *UploaderAuth {
	return &UploaderAuth{
		keyFunc: kf.Keyfunc,
		methods: []string{"RS256"},
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "uploader_auth")),
	}
}

// Middleware извлекает Bearer token, проверяет подпись и срок действия,
// помещает id и download в контекст запроса.
func (a *UploaderAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(w, r)
			if !ok {
				return
			}

			claims := &UploaderClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, a.keyFunc,
				jwt.WithValidMethods(a.methods),
				jwt.WithLeeway(a.leeway),
			)
			if err != nil || !token.Valid {
				reason := "невалидный токен"
				if err != nil {
					reason = err.Error()
				}
				a.logger.Debug("JWT валидация не пройдена",
					slog.String("error", reason),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if claims.ID == "" {
				apierrors.Unauthorized(w, "Отсутствует id в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUploader, claims.ID)
			ctx = context.WithValue(ctx, ContextKeyDownload, claims.Download)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireDownload пропускает только токены с download=true, иначе 403.
// Должен использоваться ПОСЛЕ UploaderAuth.Middleware().
func RequireDownload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed, _ := r.Context().Value(ContextKeyDownload).(bool); !allowed {
			apierrors.Forbidden(w, "Недостаточно прав для скачивания")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UploaderFromContext извлекает id загрузившего из контекста запроса.
// Возвращает пустую строку, если id не найден.
func UploaderFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyUploader).(string)
	return id
}

// bearerToken извлекает токен из заголовка Authorization.
// При ошибке пишет 401 и возвращает false.
func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
		return "", false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
		return "", false
	}
	if token = strings.TrimSpace(token); token == "" {
		apierrors.Unauthorized(w, "Пустой Bearer token")
		return "", false
	}
	return token, true
}
