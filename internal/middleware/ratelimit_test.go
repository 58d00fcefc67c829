package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAsUser(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payment/create-session", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func requestFromIP(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = addr
	return req
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestGeneralMiddleware_AllowsRequestsWithinLimitThen429(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		CheckoutRate:    1,
		CheckoutBurst:   1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAsUser(1))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser(1))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 response should be JSON: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || !body.Retryable {
		t.Errorf("body = %+v", body)
	}
}

func TestGeneralMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     0.01,
		GeneralBurst:    1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	requests := []*http.Request{
		requestAsUser(1),
		requestAsUser(2),
		requestFromIP("192.0.2.1:5000"),
		requestFromIP("192.0.2.2:5000"),
	}
	for i, req := range requests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("client %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 同じIPの別ポートは同じクライアントとして扱う
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFromIP("192.0.2.1:6000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if got := rl.GeneralLimiterCount(); got != 4 {
		t.Errorf("GeneralLimiterCount = %d, want 4", got)
	}
}

// --- CheckoutMiddleware のテスト ---

func TestCheckoutMiddleware_RequiresUser(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.CheckoutMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payment/create-session", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestCheckoutMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		CheckoutRate:    0.01,
		CheckoutBurst:   1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	checkout := rl.GeneralMiddleware()(rl.CheckoutMiddleware()(okHandler()))
	general := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	checkout.ServeHTTP(w, requestAsUser(5))
	if w.Code != http.StatusOK {
		t.Fatalf("1回目の決済リクエスト: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	checkout.ServeHTTP(w, requestAsUser(5))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("2回目の決済リクエスト: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 決済の制限に達しても他のAPIは利用できる
	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAsUser(5))
	if w.Code != http.StatusOK {
		t.Errorf("一般リクエスト: status = %d, want %d", w.Code, http.StatusOK)
	}

	if got := rl.CheckoutLimiterCount(); got != 1 {
		t.Errorf("CheckoutLimiterCount = %d, want 1", got)
	}
}

// --- クリーンアップと設定 ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CheckoutRate:    1,
		CheckoutBurst:   1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAsUser(1))
	rl.CheckoutMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAsUser(1))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.CheckoutLimiterCount() != 1 {
		t.Fatal("期限内のエントリが削除された")
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 || rl.CheckoutLimiterCount() != 0 {
		t.Errorf("期限切れエントリが残っている: general=%d checkout=%d",
			rl.GeneralLimiterCount(), rl.CheckoutLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if float64(cfg.GeneralRate) != 2.0 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.CheckoutBurst != 10 {
		t.Errorf("CheckoutBurst = %d, want 10", cfg.CheckoutBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
