package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/plancheckout/internal/model"
)

// ErrInvalidToken はトークンが不正・期限切れ・改ざんされている場合に返る。
var ErrInvalidToken = errors.New("invalid token")

// tokenClaims はアクセストークンのペイロード。sub にユーザーIDを持つ。
type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のアクセストークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はユーザーのアクセストークンを発行する。
func (i *TokenIssuer) Issue(user *model.User) (string, error) {
	now := i.now()
	claims := tokenClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、呼び出し元の識別情報を返す。
// 署名方式はHS256のみ受け付け、exp の無いトークンは拒否する。
func (i *TokenIssuer) Verify(tokenString string) (*model.Identity, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}

	return &model.Identity{UserID: userID, Email: claims.Email}, nil
}
