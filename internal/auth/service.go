// Package auth はメールアドレスとパスワードによる登録・ログインと、
// アクセストークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/plancheckout/internal/model"
	"github.com/hitoshi/plancheckout/internal/repository"
)

const (
	minPasswordLength = 6
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordBytes = 72

	// 動作確認用のテストユーザー
	TestUserEmail    = "test@example.com"
	TestUserPassword = "password123"
)

// Result は登録・ログイン成功時に返すトークンとユーザー。
type Result struct {
	AccessToken string
	User        *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	tokens   *TokenIssuer
	hashCost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, tokens *TokenIssuer) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		hashCost: bcrypt.DefaultCost,
	}
}

// Register はユーザーを登録し、アクセストークンを発行する。
func (s *Service) Register(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, email, string(hash))
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, model.NewEmailAlreadyRegisteredError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.Int64("user_id", user.ID))
	return s.issue(user)
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
// 未登録とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		// 応答時間から登録有無を推測されないよう、未登録でもハッシュ比較を行う
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return s.issue(user)
}

// VerifyToken はアクセストークンを検証し、呼び出し元の識別情報を返す。
func (s *Service) VerifyToken(token string) (*model.Identity, error) {
	identity, err := s.tokens.Verify(token)
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}
	return identity, nil
}

// CurrentUser は識別情報に対応するユーザーを返す。
// トークン発行後にユーザーが消えている場合はUnauthorizedを返す。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// SeedTestUser は動作確認用のテストユーザーを登録する。登録済みなら何もしない。
func (s *Service) SeedTestUser(ctx context.Context) error {
	_, err := s.Register(ctx, TestUserEmail, TestUserPassword)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeEmailAlreadyRegistered {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to seed test user: %w", err)
	}
	slog.Info("test user seeded", slog.String("email", TestUserEmail))
	return nil
}

func (s *Service) issue(user *model.User) (*Result, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Result{AccessToken: token, User: user}, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), s.hashCost)
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以内で入力してください", maxPasswordBytes))
	}
	return nil
}
