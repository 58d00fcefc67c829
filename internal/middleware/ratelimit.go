package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/plancheckout/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	CheckoutRate    rate.Limit    // 決済セッション作成のレート（req/sec）。10/60
	CheckoutBurst   int           // 決済セッション作成のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、決済セッション作成 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// RateLimiterConfigPerMinute は分あたりのリクエスト数からレート制限設定を生成する。
// バーストサイズは1分間の上限と同じにする。
func RateLimiterConfigPerMinute(generalPerMin, checkoutPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		CheckoutRate:    rate.Limit(float64(checkoutPerMin) / 60.0),
		CheckoutBurst:   checkoutPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はクライアントキーごとのリミッター集合。
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はキーに対応するリミッターを取得または作成し、アクセス時刻を更新する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, exists := s.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter はクライアントごとのレート制限を管理する。
// API全般のレート制限と決済セッション作成のレート制限の2種類を提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterSet
	checkout *limiterSet
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterSet(config.GeneralRate, config.GeneralBurst),
		checkout: newLimiterSet(config.CheckoutRate, config.CheckoutBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証済みリクエストはユーザーID、未認証リクエストはクライアントIPごとに制限する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !rl.general.get(key, time.Now()).Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CheckoutMiddleware は決済セッション作成専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。認証ミドルウェアの後に配置する。
func (rl *RateLimiter) CheckoutMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !rl.checkout.get(strconv.FormatInt(userID, 10), time.Now()).Allow() {
				writeRateLimitResponse(w, rl.config.CheckoutRate)
				slog.Warn("rate limit exceeded",
					slog.Int64("user_id", userID),
					slog.String("limit_type", "checkout"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// CheckoutLimiterCount は現在管理されている決済セッション作成リミッターのエントリ数を返す。
func (rl *RateLimiter) CheckoutLimiterCount() int {
	return rl.checkout.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.checkout.evict(now, ttl)
}

// clientKey はレート制限のキーを返す。
func clientKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:      "RATE_LIMIT_EXCEEDED",
		Message:   "リクエストが多すぎます。",
		Category:  "system",
		Action:    "しばらく待ってから再度お試しください。",
		Retryable: true,
	})
}
