package gateway

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/domain"
)

// AdminRole is the JWT "role" claim that grants admin access.
const AdminRole = "admin"

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK        bool             `json:"ok"`
	Method    string           `json:"method,omitempty"` // "token" | "jwt"
	Reason    string           `json:"reason,omitempty"`
	Principal domain.Principal `json:"-"`
}

// ResolvedAuth holds the resolved admin credentials.
type ResolvedAuth struct {
	Mode      string
	Token     string
	JWTSecret string
}

// ResolveAuth resolves credentials from config and environment.
// Precedence: config value → env variable → empty.
func ResolveAuth(cfg config.AuthConfig) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, JWTSecret: cfg.JWTSecret}
	if auth.Token == "" {
		auth.Token = os.Getenv("SUPPORTCHAT_ADMIN_TOKEN")
	}
	if auth.JWTSecret == "" {
		auth.JWTSecret = os.Getenv("SUPPORTCHAT_JWT_SECRET")
	}
	if auth.Mode == "" {
		if auth.JWTSecret != "" && auth.Token == "" {
			auth.Mode = "jwt"
		} else {
			auth.Mode = "token"
		}
	}
	return auth
}

// Authorize checks a presented credential against the server auth.
func Authorize(serverAuth ResolvedAuth, credential string) AuthResult {
	if credential == "" {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case "token":
		if serverAuth.Token == "" {
			return AuthResult{Reason: "server token not configured"}
		}
		if !safeEqual(credential, serverAuth.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: "token", Principal: domain.Principal{Subject: "token", Admin: true}}

	case "jwt":
		if serverAuth.JWTSecret == "" {
			return AuthResult{Reason: "server jwt secret not configured"}
		}
		sub, err := ValidateToken(serverAuth.JWTSecret, credential)
		if err != nil {
			return AuthResult{Reason: err.Error()}
		}
		return AuthResult{OK: true, Method: "jwt", Principal: domain.Principal{Subject: sub, Admin: true}}

	default:
		return AuthResult{Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// IssueToken signs an HS256 admin token for subject.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": AdminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken verifies an HS256 token and returns its subject. The token
// must carry role=admin.
func ValidateToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if role, _ := claims["role"].(string); role != AdminRole {
		return "", errors.New("token lacks admin role")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub = "jwt"
	}
	return sub, nil
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
