package walletauth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

func newTokenServiceForTest(test *testing.T, store Store, clock *testClock) *TokenService {
	test.Helper()
	service, err := NewTokenService(store, testSecret, WithClock(clock.Now))
	if err != nil {
		test.Fatalf("token service: %v", err)
	}
	return service
}

func TestNewTokenServiceValidatesConfig(test *testing.T) {
	test.Parallel()
	if _, err := NewTokenService(nil, testSecret); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewTokenService(newStubStore(), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func TestMintStoresOnlyHash(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	service := newTokenServiceForTest(test, store, clock)

	issued, err := service.Mint(context.Background(), "user-1", "0:abc")
	if err != nil {
		test.Fatalf("mint: %v", err)
	}
	if len(strings.Split(issued.Token, ".")) != 2 {
		test.Fatalf("expected two segments, got %q", issued.Token)
	}
	if !issued.ExpiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		test.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}
	record, err := store.GetToken(context.Background(), HashToken(issued.Token))
	if err != nil {
		test.Fatalf("expected stored record: %v", err)
	}
	if record.TokenHash == issued.Token || record.UserID != "user-1" {
		test.Fatalf("unexpected record %+v", record)
	}
}

func TestVerifyRoundTripAndTouch(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newTestClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	service := newTokenServiceForTest(test, store, clock)
	issued, err := service.Mint(context.Background(), "user-1", "0:abc")
	if err != nil {
		test.Fatalf("mint: %v", err)
	}
	claims, err := service.Verify(context.Background(), issued.Token, Expected{UserID: "user-1"})
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Wallet != "0:abc" {
		test.Fatalf("unexpected claims %+v", claims)
	}
	deadline := time.Now().Add(time.Second)
	for {
		store.mu.Lock()
		_, touched := store.touched[HashToken(issued.Token)]
		store.mu.Unlock()
		if touched {
			break
		}
		if time.Now().After(deadline) {
			test.Fatalf("expected lastUsedAt to be touched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVerifyRejections(test *testing.T) {
	test.Parallel()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		mutate  func(token string, store *stubStore, clock *testClock, service *TokenService) string
		want    error
		expect  Expected
		removed bool
	}{
		{
			name:   "empty",
			mutate: func(string, *stubStore, *testClock, *TokenService) string { return " " },
			want:   ErrMissingToken,
		},
		{
			name:   "extra segment",
			mutate: func(token string, _ *stubStore, _ *testClock, _ *TokenService) string { return token + ".x" },
			want:   ErrInvalidToken,
		},
		{
			name: "forged signature",
			mutate: func(token string, _ *stubStore, _ *testClock, _ *TokenService) string {
				segments := strings.Split(token, ".")
				return segments[0] + "." + base64.RawURLEncoding.EncodeToString(make([]byte, 32))
			},
			want: ErrInvalidToken,
		},
		{
			name: "tampered payload",
			mutate: func(token string, _ *stubStore, _ *testClock, _ *TokenService) string {
				segments := strings.Split(token, ".")
				forged := base64.RawURLEncoding.EncodeToString([]byte(`{"userId":"admin","wallet":"0:abc","exp":9999999999}`))
				return forged + "." + segments[1]
			},
			want: ErrInvalidToken,
		},
		{
			name: "revoked",
			mutate: func(token string, _ *stubStore, _ *testClock, service *TokenService) string {
				if err := service.Revoke(context.Background(), token); err != nil {
					panic(err)
				}
				return token
			},
			want: ErrTokenRevoked,
		},
		{
			name: "payload expired",
			mutate: func(token string, _ *stubStore, clock *testClock, _ *TokenService) string {
				clock.Advance(25 * time.Hour)
				return token
			},
			want:    ErrTokenExpired,
			removed: true,
		},
		{
			name: "record expired",
			mutate: func(token string, store *stubStore, _ *testClock, _ *TokenService) string {
				store.mu.Lock()
				record := store.tokens[HashToken(token)]
				record.ExpiresAt = start.Add(-time.Minute)
				store.tokens[HashToken(token)] = record
				store.mu.Unlock()
				return token
			},
			want:    ErrTokenExpired,
			removed: true,
		},
		{
			name: "record user differs",
			mutate: func(token string, store *stubStore, _ *testClock, _ *TokenService) string {
				store.mu.Lock()
				record := store.tokens[HashToken(token)]
				record.UserID = "someone-else"
				store.tokens[HashToken(token)] = record
				store.mu.Unlock()
				return token
			},
			want: ErrInvalidToken,
		},
		{
			name:   "expected wallet differs",
			mutate: func(token string, _ *stubStore, _ *testClock, _ *TokenService) string { return token },
			expect: Expected{Wallet: "0:def"},
			want:   ErrTokenMismatch,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			clock := newTestClock(start)
			service := newTokenServiceForTest(test, store, clock)
			issued, err := service.Mint(context.Background(), "user-1", "0:abc")
			if err != nil {
				test.Fatalf("mint: %v", err)
			}
			token := testCase.mutate(issued.Token, store, clock, service)
			_, err = service.Verify(context.Background(), token, testCase.expect)
			if !errors.Is(err, testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, err)
			}
			if !errors.Is(err, faults.ErrUnauthorized) {
				test.Fatalf("expected unauthorized kind, got %v", err)
			}
			if testCase.removed && store.tokenCount() != 0 {
				test.Fatalf("expected expired record to be deleted")
			}
		})
	}
}

func TestMintSurfacesStoreFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.saveErr = errors.New("connection reset")
	service := newTokenServiceForTest(test, store, newTestClock(time.Now()))
	if _, err := service.Mint(context.Background(), "user-1", "0:abc"); !errors.Is(err, faults.ErrInfrastructure) {
		test.Fatalf("expected infrastructure error, got %v", err)
	}
}
