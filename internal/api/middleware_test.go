package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/mocks"
)

const testSecret = "test-secret-please-ignore"

func signToken(t *testing.T, secret, issuer string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestBearerAuth(t *testing.T) {
	cfg := testServerConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Issuer = "navigator"
	h := newHarness(t, mocks.NewScriptedReasoner(doneJSON), cfg)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "navigator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.RegisteredClaims{Issuer: "navigator"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", "navigator"), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, testSecret, "someone-else"), http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"other algorithm", "Bearer " + hs384, http.StatusUnauthorized},
		// A valid token reaches the handler, which rejects the empty goal.
		{"valid", "Bearer " + signToken(t, testSecret, "navigator"), http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set("Authorization", tc.header)
			}
			resp := h.post(t, "/run", `{"goal":""}`, header)
			assert.Equal(t, tc.want, resp.StatusCode)
			if tc.want == http.StatusUnauthorized {
				assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	resp := h.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		name    string
		target  string
		header  string
		want    string
		wantErr bool
	}{
		{"header", "/run", "Bearer abc", "abc", false},
		{"lowercase scheme", "/run", "bearer  abc ", "abc", false},
		{"query param", "/ws/run?access_token=xyz", "", "xyz", false},
		{"header wins", "/ws/run?access_token=xyz", "Bearer abc", "abc", false},
		{"missing", "/run", "", "", true},
		{"empty token", "/run", "Bearer ", "", true},
		{"no scheme", "/run", "abc", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := bearerToken(r)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNegotiateEncoding(t *testing.T) {
	testCases := [][2]string{
		{"", ""},
		{"identity", ""},
		{"gzip", "gzip"},
		{"gzip, deflate", "gzip"},
		{"gzip, deflate, br", "br"},
		{"BR;q=1.0", "br"},
		{"deflate;q=0.5, gzip;q=1", "gzip"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc[1], negotiateEncoding(tc[0]), tc[0])
	}
}

func TestCompressedWriter(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"step":"click"}`), 64)

	testCases := []struct {
		encoding string
		decode   func(io.Reader) (io.Reader, error)
	}{
		{"", func(r io.Reader) (io.Reader, error) { return r, nil }},
		{"gzip", func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }},
		{"br", func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil }},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		cw := compressedWriter(rec, tc.encoding)
		_, err := cw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, cw.Close())

		assert.Equal(t, tc.encoding, rec.Header().Get("Content-Encoding"))
		r, err := tc.decode(rec.Body)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, got, tc.encoding)
	}
}

func TestPumpEvents(t *testing.T) {
	step := agent.Event{Type: agent.EventStep, SessionID: "s", Step: &agent.StepEvent{Index: 0}}
	final := agent.Event{Type: agent.EventFinal, SessionID: "s", Final: &agent.FinalEvent{Status: agent.StatusSucceeded}}

	t.Run("stops after final", func(t *testing.T) {
		sink := agent.NewChannelSink(4)
		require.NoError(t, sink.Send(context.Background(), step))
		require.NoError(t, sink.Send(context.Background(), final))

		var got []agent.Event
		err := pumpEvents(context.Background(), sink, nil, func(ev agent.Event) error {
			got = append(got, ev)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []agent.Event{step, final}, got)
	})

	t.Run("drains after session ends", func(t *testing.T) {
		sink := agent.NewChannelSink(4)
		done := make(chan struct{})
		close(done)
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = sink.Send(context.Background(), final)
		}()

		var got []agent.Event
		err := pumpEvents(context.Background(), sink, done, func(ev agent.Event) error {
			got = append(got, ev)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []agent.Event{final}, got)
	})

	t.Run("write error stops the pump", func(t *testing.T) {
		sink := agent.NewChannelSink(4)
		require.NoError(t, sink.Send(context.Background(), step))
		boom := errors.New("client gone")
		err := pumpEvents(context.Background(), sink, nil, func(agent.Event) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context cancellation", func(t *testing.T) {
		sink := agent.NewChannelSink(4)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := pumpEvents(ctx, sink, nil, func(agent.Event) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
