package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/soyeahso/supportchat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.False(t, safeEqual("secret", "wrong!"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.True(t, safeEqual("", ""))
}

func TestResolveAuth(t *testing.T) {
	auth := ResolveAuth(config.AuthConfig{Mode: "token", Token: "my-token"})
	assert.Equal(t, "token", auth.Mode)
	assert.Equal(t, "my-token", auth.Token)

	t.Setenv("SUPPORTCHAT_ADMIN_TOKEN", "env-token")
	auth = ResolveAuth(config.AuthConfig{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
}

func TestResolveAuth_DefaultMode(t *testing.T) {
	t.Setenv("SUPPORTCHAT_ADMIN_TOKEN", "")
	t.Setenv("SUPPORTCHAT_JWT_SECRET", "")

	assert.Equal(t, "jwt", ResolveAuth(config.AuthConfig{JWTSecret: "s"}).Mode)
	assert.Equal(t, "token", ResolveAuth(config.AuthConfig{Token: "t"}).Mode)
	assert.Equal(t, "token", ResolveAuth(config.AuthConfig{}).Mode)
}

func TestAuthorize_Token(t *testing.T) {
	server := ResolvedAuth{Mode: "token", Token: "secret"}

	res := Authorize(server, "secret")
	assert.True(t, res.OK)
	assert.Equal(t, "token", res.Method)
	assert.True(t, res.Principal.Admin)

	res = Authorize(server, "wrong")
	assert.False(t, res.OK)
	assert.Equal(t, "token_mismatch", res.Reason)
	assert.False(t, res.Principal.Admin)

	assert.False(t, Authorize(server, "").OK)
	assert.False(t, Authorize(ResolvedAuth{Mode: "token"}, "anything").OK)
	assert.False(t, Authorize(ResolvedAuth{Mode: "ldap", Token: "x"}, "x").OK)
}

func TestAuthorize_JWT(t *testing.T) {
	server := ResolvedAuth{Mode: "jwt", JWTSecret: "k"}

	token, err := IssueToken("k", "dana", time.Minute)
	require.NoError(t, err)
	res := Authorize(server, token)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "jwt", res.Method)
	assert.Equal(t, "dana", res.Principal.Subject)

	expired, err := IssueToken("k", "dana", -time.Minute)
	require.NoError(t, err)
	assert.False(t, Authorize(server, expired).OK)

	assert.False(t, Authorize(ResolvedAuth{Mode: "jwt"}, token).OK)
}

func TestValidateToken_RequiresAdminRole(t *testing.T) {
	claims := jwt.MapClaims{"sub": "visitor", "role": "viewer", "exp": time.Now().Add(time.Hour).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = ValidateToken("k", signed)
	assert.ErrorContains(t, err, "admin role")
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.MapClaims{"sub": "x", "role": AdminRole}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = ValidateToken("k", signed)
	assert.Error(t, err)
}

func TestIssueToken_EmptySecret(t *testing.T) {
	_, err := IssueToken("", "x", time.Minute)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", bearerToken(r))

	r.Header.Set("Authorization", "bearer  xyz ")
	assert.Equal(t, "xyz", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(r))
}

func TestAuthRateLimiter(t *testing.T) {
	l := newAuthRateLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1:1234"))
	for i := 0; i < authRateMaxFails; i++ {
		l.recordFailure("10.0.0.1:1234")
	}
	assert.False(t, l.allow("10.0.0.1:5555"), "limit is per host, not per port")
	assert.True(t, l.allow("10.0.0.2:1234"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, l.allow("10.0.0.1:1234"))

	l.recordFailure("10.0.0.3:1")
	now = now.Add(authRateWindow + time.Second)
	l.prune()
	assert.Empty(t, l.failures)
}
