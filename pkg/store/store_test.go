package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"examtrack/pkg/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMemoryStoreAccounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acct := domain.Account{ID: "u1", Email: "a@example.com", PasswordHash: "h"}
	if err := s.SaveAccount(ctx, acct); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, _ := s.HasEmail(ctx, "a@example.com"); !ok {
		t.Fatalf("expected email to exist")
	}
	got, ok, _ := s.GetByEmail(ctx, "a@example.com")
	if !ok || got.ID != "u1" {
		t.Fatalf("get by email: %+v ok=%v", got, ok)
	}

	acct.Email = "b@example.com"
	_ = s.SaveAccount(ctx, acct)
	if ok, _ := s.HasEmail(ctx, "a@example.com"); ok {
		t.Fatalf("old email must be released")
	}
	if got, ok, _ := s.GetByID(ctx, "u1"); !ok || got.Email != "b@example.com" {
		t.Fatalf("get by id: %+v ok=%v", got, ok)
	}
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s, err := NewJWTSessionStore(testSecret, time.Hour, NewMemoryTokenRevoker(), JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil || !ok || uid != "user-1" {
		t.Fatalf("verify: uid=%q ok=%v err=%v", uid, ok, err)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to fail")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-a"})
	verify, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{Audience: "aud-b"})

	token, err := signing.NewSession("user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsOtherAlgorithms(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Hour, nil, JWTOptions{})
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ID:        "jti",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(token); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s, _ := NewJWTSessionStore(testSecret, time.Hour, NewMemoryTokenRevoker(), JWTOptions{})
	token, _ := s.NewSession("user-revoke")
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := NewRedisTokenRevoker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	s, _ := NewJWTSessionStore(testSecret, time.Hour, revoker, JWTOptions{})

	token, _ := s.NewSession("user-cutoff")
	if err := s.RevokeUserSessions("user-cutoff", time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, _, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected cutoff to revoke token, got %v", err)
	}
	other, _ := s.NewSession("someone-else")
	if _, ok, err := s.GetUserIDByToken(other); err != nil || !ok {
		t.Fatalf("other user affected: ok=%v err=%v", ok, err)
	}
}

func TestTokenRevokerUserCutoffMonotonic(t *testing.T) {
	mr := miniredis.RunT(t)
	revokers := map[string]UserTokenRevoker{
		"memory": NewMemoryTokenRevoker(),
		"redis":  NewRedisTokenRevoker(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
	for name, r := range revokers {
		first := time.Now().UTC().Add(-time.Minute)
		second := time.Now().UTC()
		if err := r.RevokeUser("user-1", first); err != nil {
			t.Fatalf("%s: revoke first: %v", name, err)
		}
		_ = r.RevokeUser("user-1", first.Add(-time.Minute))
		got, _ := r.RevokedAfter("user-1")
		if !got.Equal(first) {
			t.Fatalf("%s: expected first cutoff kept, got %v", name, got)
		}
		_ = r.RevokeUser("user-1", second)
		got, _ = r.RevokedAfter("user-1")
		if !got.Equal(second) {
			t.Fatalf("%s: expected newest cutoff, got %v", name, got)
		}
	}
}

func TestResetTokenStoresAreSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	stores := map[string]ResetTokenStore{
		"memory": NewMemoryResetTokenStore(),
		"redis":  NewRedisResetTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
	ctx := context.Background()
	for name, s := range stores {
		token, err := s.NewToken(ctx, "user-1", time.Minute)
		if err != nil {
			t.Fatalf("%s: new token: %v", name, err)
		}
		uid, err := s.Consume(ctx, token)
		if err != nil || uid != "user-1" {
			t.Fatalf("%s: consume: uid=%q err=%v", name, uid, err)
		}
		if _, err := s.Consume(ctx, token); !errors.Is(err, ErrInvalidResetToken) {
			t.Fatalf("%s: second consume should fail, got %v", name, err)
		}
	}
}

func TestRedisResetTokenStoresOnlyHash(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisResetTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	token, _ := s.NewToken(context.Background(), "user-1", time.Minute)
	for _, key := range mr.Keys() {
		if strings.Contains(key, token) {
			t.Fatalf("raw token stored in key %q", key)
		}
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Consume(context.Background(), token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}
