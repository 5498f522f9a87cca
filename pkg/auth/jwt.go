// Package auth 管理接口的 JWT 认证
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingToken = errors.New("missing bearer token")
	ErrForbidden    = errors.New("operator lacks push scope")
)

// ScopePush 允许调用推送接口
const ScopePush = "push"

// Claims 管理员 token claims
type Claims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope 是否具备 scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// JWTValidator JWT 验证器（HMAC）
type JWTValidator struct {
	secretKey []byte
}

// NewJWTValidator 创建 JWT 验证器
func NewJWTValidator(secretKey string) *JWTValidator {
	return &JWTValidator{
		secretKey: []byte(secretKey),
	}
}

// Validate 验证 JWT token
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateRequest 从 Authorization: Bearer 头取 token 并校验 push scope
func (v *JWTValidator) ValidateRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, ErrMissingToken
	}
	claims, err := v.Validate(token)
	if err != nil {
		return nil, err
	}
	if !claims.HasScope(ScopePush) {
		return nil, ErrForbidden
	}
	return claims, nil
}

// GenerateToken 签发管理员 token（运维工具与测试使用）
func (v *JWTValidator) GenerateToken(operator string, scopes []string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
