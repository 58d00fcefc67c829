package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

// --- モック定義 ---

// memoryUserRepo はメールアドレスの一意性を守るインメモリのユーザーリポジトリ。
type memoryUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*model.User

	findErr error
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*model.User)}
}

func (m *memoryUserRepo) Create(_ context.Context, email, passwordHash string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, fmt.Errorf("email %q: %w", email, repository.ErrDuplicate)
	}
	m.nextID++
	u := &model.User{ID: m.nextID, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

func (m *memoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.users[email], nil
}

func (m *memoryUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

var _ repository.UserRepository = (*memoryUserRepo)(nil)

func newTestService(repo repository.UserRepository) *Service {
	s := NewService(repo, NewTokenIssuer("test-secret", time.Hour))
	s.hashCost = bcrypt.MinCost
	return s
}

func assertAPIErrorCode(t *testing.T, err error, want string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != want {
		t.Errorf("Code = %q, want %q", apiErr.Code, want)
	}
}

// --- テスト ---

func TestRegister_IssuesTokenForNormalizedEmail(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := newTestService(repo)

	res, err := svc.Register(context.Background(), "  Alice@Example.COM ", "secret1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.User.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalized %q", res.User.Email, "alice@example.com")
	}
	if res.User.PasswordHash == "secret1" {
		t.Error("パスワードが平文で保存されています")
	}

	identity, err := svc.VerifyToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken returned error: %v", err)
	}
	if identity.UserID != res.User.ID || identity.Email != "alice@example.com" {
		t.Errorf("identity = %+v, want user %d", identity, res.User.ID)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService(newMemoryUserRepo())

	if _, err := svc.Register(context.Background(), "bob@example.com", "secret1"); err != nil {
		t.Fatalf("1回目のRegister returned error: %v", err)
	}
	_, err := svc.Register(context.Background(), "BOB@example.com", "another")
	assertAPIErrorCode(t, err, model.ErrCodeEmailAlreadyRegistered)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"メールアドレスに@が無い", "bob.example.com", "secret1"},
		{"ローカル部が空", "@example.com", "secret1"},
		{"ドメインが空", "bob@", "secret1"},
		{"パスワードが短い", "bob@example.com", "12345"},
		{"パスワードが長すぎる", "bob@example.com", strings.Repeat("a", 73)},
	}

	svc := newTestService(newMemoryUserRepo())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.email, tt.password)
			assertAPIErrorCode(t, err, model.ErrCodeValidation)
		})
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(newMemoryUserRepo())
	registered, err := svc.Register(context.Background(), "carol@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	t.Run("正しい認証情報", func(t *testing.T) {
		res, err := svc.Login(context.Background(), "Carol@example.com", "secret1")
		if err != nil {
			t.Fatalf("Login returned error: %v", err)
		}
		if res.User.ID != registered.User.ID {
			t.Errorf("User.ID = %d, want %d", res.User.ID, registered.User.ID)
		}
	})

	t.Run("パスワード不一致と未登録は同じエラー", func(t *testing.T) {
		_, wrongPass := svc.Login(context.Background(), "carol@example.com", "wrong-pass")
		_, unknown := svc.Login(context.Background(), "nobody@example.com", "secret1")
		assertAPIErrorCode(t, wrongPass, model.ErrCodeInvalidCredentials)
		assertAPIErrorCode(t, unknown, model.ErrCodeInvalidCredentials)
		if wrongPass.Error() != unknown.Error() {
			t.Errorf("エラーメッセージが異なります: %q / %q", wrongPass.Error(), unknown.Error())
		}
	})

	t.Run("リポジトリエラーはそのまま伝播", func(t *testing.T) {
		repo := newMemoryUserRepo()
		repo.findErr = errors.New("db down")
		_, err := newTestService(repo).Login(context.Background(), "carol@example.com", "secret1")
		var apiErr *model.APIError
		if err == nil || errors.As(err, &apiErr) {
			t.Errorf("内部エラーが返るべきところ: %v", err)
		}
	})
}

func TestVerifyToken_Invalid(t *testing.T) {
	svc := newTestService(newMemoryUserRepo())

	_, err := svc.VerifyToken("not-a-token")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestCurrentUser(t *testing.T) {
	svc := newTestService(newMemoryUserRepo())
	res, err := svc.Register(context.Background(), "dave@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	user, err := svc.CurrentUser(context.Background(), res.User.ID)
	if err != nil {
		t.Fatalf("CurrentUser returned error: %v", err)
	}
	if user.Email != "dave@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "dave@example.com")
	}

	_, err = svc.CurrentUser(context.Background(), 9999)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestSeedTestUser_Idempotent(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := newTestService(repo)

	for i := 0; i < 2; i++ {
		if err := svc.SeedTestUser(context.Background()); err != nil {
			t.Fatalf("%d回目のSeedTestUser returned error: %v", i+1, err)
		}
	}

	if _, err := svc.Login(context.Background(), TestUserEmail, TestUserPassword); err != nil {
		t.Errorf("テストユーザーでログインできません: %v", err)
	}
}
