package hubauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context) (TokenPair, error) {
	args := m.Called(ctx)
	return args.Get(0).(TokenPair), args.Error(1)
}

func (m *mockAuthenticator) Refresh(ctx context.Context, refreshToken Token) (TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(TokenPair), args.Error(1)
}

func signedToken(t *testing.T, issuedAt, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	value, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return value
}

func tokenAt(value string, issuedAt, expiresAt time.Time) Token {
	return Token{Value: value, IssuedAt: issuedAt, ExpiresAt: expiresAt}
}

func TestTokenFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	validAccess := tokenAt("access-1", now, now.Add(time.Hour))
	expiredAccess := tokenAt("access-0", now.Add(-2*time.Hour), now.Add(-time.Hour))
	validRefresh := tokenAt("refresh-1", now, now.Add(24*time.Hour))
	expiredRefresh := tokenAt("refresh-0", now.Add(-48*time.Hour), now.Add(-time.Hour))

	t.Run("authenticates on first use and reuses within validity", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).Return(TokenPair{AccessToken: validAccess}, nil).Once()
		cache := NewTokenCache(auth, WithClock(clock))

		first, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)
		second, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)

		assert.Equal(t, "access-1", first.Value)
		assert.Equal(t, first, second)
		auth.AssertNumberOfCalls(t, "Authenticate", 1)
	})

	t.Run("refreshes an expired access token with a valid refresh token", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).
			Return(TokenPair{AccessToken: expiredAccess, RefreshToken: &validRefresh}, nil).Once()
		auth.On("Refresh", mock.Anything, validRefresh).
			Return(TokenPair{AccessToken: validAccess}, nil).Once()
		cache := NewTokenCache(auth, WithClock(clock))

		// first call caches a pair whose access token is already expired
		_, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)

		token, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)
		assert.Equal(t, "access-1", token.Value)
		auth.AssertNumberOfCalls(t, "Authenticate", 1)
		auth.AssertNumberOfCalls(t, "Refresh", 1)
	})

	t.Run("re-authenticates when both tokens are expired", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).
			Return(TokenPair{AccessToken: expiredAccess, RefreshToken: &expiredRefresh}, nil).Once()
		auth.On("Authenticate", mock.Anything).
			Return(TokenPair{AccessToken: validAccess}, nil).Once()
		cache := NewTokenCache(auth, WithClock(clock))

		_, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)

		token, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)
		assert.Equal(t, "access-1", token.Value)
		auth.AssertNumberOfCalls(t, "Authenticate", 2)
		auth.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
	})

	t.Run("re-authenticates when there is no refresh token", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).
			Return(TokenPair{AccessToken: expiredAccess}, nil).Once()
		auth.On("Authenticate", mock.Anything).
			Return(TokenPair{AccessToken: validAccess}, nil).Once()
		cache := NewTokenCache(auth, WithClock(clock))

		_, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)

		token, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)
		assert.Equal(t, "access-1", token.Value)
	})

	t.Run("keeps one entry per host", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).Return(TokenPair{AccessToken: validAccess}, nil).Twice()
		cache := NewTokenCache(auth, WithClock(clock))

		_, err := cache.TokenFor(context.Background(), "hub.example.org")
		require.NoError(t, err)
		_, err = cache.TokenFor(context.Background(), "relay.example.org")
		require.NoError(t, err)

		auth.AssertNumberOfCalls(t, "Authenticate", 2)
	})

	t.Run("concurrent callers for one host authenticate once", func(t *testing.T) {
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).Return(TokenPair{AccessToken: validAccess}, nil).Once()
		cache := NewTokenCache(auth, WithClock(clock))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.TokenFor(context.Background(), "hub.example.org")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		auth.AssertNumberOfCalls(t, "Authenticate", 1)
	})

	t.Run("propagates authentication failures", func(t *testing.T) {
		authErr := &AuthError{Op: "authenticate", Err: errors.New("denied")}
		auth := &mockAuthenticator{}
		auth.On("Authenticate", mock.Anything).Return(TokenPair{}, authErr)
		cache := NewTokenCache(auth, WithClock(clock))

		_, err := cache.TokenFor(context.Background(), "hub.example.org")
		var gotten *AuthError
		assert.ErrorAs(t, err, &gotten)
	})
}

func TestParseToken(t *testing.T) {
	t.Run("extracts lifetime claims", func(t *testing.T) {
		issued := time.Now().Truncate(time.Second)
		expires := issued.Add(time.Hour)

		token, err := parseToken(signedToken(t, issued, expires))
		require.NoError(t, err)
		assert.Equal(t, issued.Unix(), token.IssuedAt.Unix())
		assert.Equal(t, expires.Unix(), token.ExpiresAt.Unix())
	})

	t.Run("rejects opaque strings", func(t *testing.T) {
		_, err := parseToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}
