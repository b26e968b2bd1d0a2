// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/pulse/internal/audit"
	"github.com/opentrusty/pulse/internal/identity"
	"github.com/opentrusty/pulse/internal/organization"
	"github.com/opentrusty/pulse/internal/rls"
	"github.com/opentrusty/pulse/internal/scope"
	"github.com/opentrusty/pulse/internal/store/postgres"
	"github.com/opentrusty/pulse/internal/survey"
	"github.com/opentrusty/pulse/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-key"

type testServer struct {
	pool       *testutil.Pool
	coord      *rls.Coordinator
	orgRepo    *mockOrganizationRepo
	memberRepo *mockMemberRepo
	surveyRepo *mockSurveyRepo
	router     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	pool := testutil.NewPool()
	db := postgres.NewFromPool(pool)
	binder, err := postgres.NewBinder(postgres.DefaultClaimSetting)
	require.NoError(t, err)
	coord := rls.NewCoordinator(db, binder)

	ts := &testServer{
		pool:       pool,
		coord:      coord,
		orgRepo:    new(mockOrganizationRepo),
		memberRepo: new(mockMemberRepo),
		surveyRepo: new(mockSurveyRepo),
	}
	auditLogger := audit.NewSlogLogger()
	h := NewHandler(
		organization.NewService(ts.orgRepo, ts.memberRepo, auditLogger),
		survey.NewService(ts.surveyRepo, auditLogger),
		postgres.NewSecurityContextRepository(db, postgres.DefaultClaimSetting),
	)
	registry := prometheus.NewRegistry()
	registry.MustRegister(rls.NewStatsCollector(coord))
	ts.router = NewRouter(h, RouterConfig{
		Runner:         coord,
		Peeker:         identity.NewPeeker(""),
		Verifier:       identity.NewVerifier([]byte(testSecret), ""),
		RequestTimeout: 5 * time.Second,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	return ts
}

func bearer(t *testing.T, subject, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (ts *testServer) do(method, path string, body any, authorization string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) assertBalanced(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, ts.pool.Outstanding())
	stats := ts.coord.Stats()
	assert.Equal(t, stats.Opened, stats.Released)
}

// TestPurpose: Validates the end-to-end identity binding for an authenticated request.
// Scope: Integration Test (in-memory pool)
// Security: The database observes exactly the caller's subject
// Expected: 200 with security_context "u1"; the transaction commits and the connection is returned.
// Test Case ID: HTTP-01
func TestRouter_SecurityContext_BoundAndCommitted(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/me/context", nil, bearer(t, "u1", testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	var resp SecurityContextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "u1", resp.SecurityContext)
	assert.NotEmpty(t, resp.ScopeID)

	txs := ts.pool.Txs()
	require.Len(t, txs, 1)
	assert.Equal(t, "SET LOCAL request.jwt.claim.sub = 'u1'", txs[0].Statements()[0])
	assert.Equal(t, 1, txs[0].Commits())
	ts.assertBalanced(t)
}

// TestPurpose: Validates requests without a usable credential.
// Scope: Unit Test
// Security: No transaction is bound and authorization rejects the request
// Expected: 401 and no connection checkout.
// Test Case ID: HTTP-02
func TestRouter_NoCredential(t *testing.T) {
	ts := newTestServer(t)

	for _, auth := range []string{"", "Bearer not-a-jwt", "Basic dXNlcjpwYXNz"} {
		w := ts.do(http.MethodGet, "/api/v1/me/context", nil, auth)
		assert.Equal(t, http.StatusUnauthorized, w.Code, auth)
	}
	assert.Equal(t, 0, ts.pool.Checkouts())
}

// TestPurpose: Validates that a forged credential never commits.
// Scope: Unit Test
// Security: The peeked subject is a hint; the authorization phase is authoritative
// Expected: 401 from authorization; the transaction bound from the peek is rolled back.
// Test Case ID: HTTP-03
func TestRouter_ForgedCredential_RollsBack(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/me/context", nil, bearer(t, "u1", "attacker-key"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	txs := ts.pool.Txs()
	require.Len(t, txs, 1)
	assert.Equal(t, 0, txs[0].Commits())
	assert.Equal(t, 1, txs[0].Rollbacks())
	ts.assertBalanced(t)
}

// TestPurpose: Validates the bind failure response.
// Scope: Unit Test
// Security: Fail closed without describing the session variable mechanism (CWE-209)
// Expected: Generic 500, handler not reached, connection returned.
// Test Case ID: HTTP-04
func TestRouter_BindFailure_Generic500(t *testing.T) {
	ts := newTestServer(t)
	ts.pool.ExecErr = func(sql string) error {
		if strings.HasPrefix(sql, "SET LOCAL") {
			return errors.New(`unrecognized configuration parameter "request.jwt.claim.sub"`)
		}
		return nil
	}

	w := ts.do(http.MethodGet, "/api/v1/me/context", nil, bearer(t, "u1", testSecret))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "request.jwt")
	assert.NotContains(t, w.Body.String(), "SET")

	assert.Equal(t, 0, ts.pool.Outstanding())
	assert.Equal(t, int64(1), ts.coord.Stats().BindFailures)
}

// TestPurpose: Validates status-driven commit and rollback through real handlers.
// Scope: Unit Test
// Expected: 201 commits; a 409 conflict rolls back.
// Test Case ID: HTTP-05
func TestRouter_CreateOrganization_OutcomeFollowsStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.orgRepo.On("Create", mock.Anything, mock.MatchedBy(func(o *organization.Organization) bool {
		return o.Name == "Acme"
	})).Return(nil).Once()
	ts.memberRepo.On("AddMember", mock.Anything, mock.MatchedBy(func(m *organization.Member) bool {
		return m.UserID == "u1" && m.Role == organization.RoleOwner
	})).Return(nil).Once()
	ts.orgRepo.On("Create", mock.Anything, mock.Anything).Return(organization.ErrOrganizationExists).Once()

	w := ts.do(http.MethodPost, "/api/v1/organizations", CreateOrganizationRequest{Name: "Acme"}, bearer(t, "u1", testSecret))
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/organizations", CreateOrganizationRequest{Name: "Acme"}, bearer(t, "u1", testSecret))
	assert.Equal(t, http.StatusConflict, w.Code)

	txs := ts.pool.Txs()
	require.Len(t, txs, 2)
	assert.Equal(t, 1, txs[0].Commits())
	assert.Equal(t, 1, txs[1].Rollbacks())

	stats := ts.coord.Stats()
	assert.Equal(t, int64(1), stats.Committed)
	assert.Equal(t, int64(1), stats.RolledBack)
	ts.assertBalanced(t)
	ts.orgRepo.AssertExpectations(t)
	ts.memberRepo.AssertExpectations(t)
}

// TestPurpose: Validates that repositories receive the request scope through the context.
// Scope: Unit Test
// Expected: The context handed to the repository carries the caller's bound scope.
// Test Case ID: HTTP-06
func TestRouter_RepositoriesSeeScope(t *testing.T) {
	ts := newTestServer(t)
	ts.orgRepo.On("List", mock.MatchedBy(func(ctx context.Context) bool {
		s, ok := scope.Current(ctx)
		return ok && s.SubjectID() == "u2"
	}), 50, 0).Return([]*organization.Organization{{ID: "o1", Name: "Acme"}}, nil).Once()

	w := ts.do(http.MethodGet, "/api/v1/organizations", nil, bearer(t, "u2", testSecret))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Acme")
	ts.orgRepo.AssertExpectations(t)
	ts.assertBalanced(t)
}

// TestPurpose: Validates panic handling around the request transaction.
// Scope: Unit Test
// Security: A crashed handler must not persist partial work
// Expected: 500 from the recoverer and a rollback.
// Test Case ID: HTTP-07
func TestIdentityTransactionMiddleware_PanicRollsBack(t *testing.T) {
	pool := testutil.NewPool()
	binder, err := postgres.NewBinder(postgres.DefaultClaimSetting)
	require.NoError(t, err)
	coord := rls.NewCoordinator(postgres.NewFromPool(pool), binder)

	crash := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("handler crashed")
	})
	handler := middleware.Recoverer(IdentityTransactionMiddleware(coord, identity.NewPeeker(""))(crash))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, "u3", testSecret))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	txs := pool.Txs()
	require.Len(t, txs, 1)
	assert.Equal(t, 0, txs[0].Commits())
	assert.Equal(t, 1, txs[0].Rollbacks())
	assert.Equal(t, 0, pool.Outstanding())
}

// TestPurpose: Validates that a handler writing nothing commits.
// Scope: Unit Test
// Expected: Implicit 200 maps to commit.
// Test Case ID: HTTP-08
func TestIdentityTransactionMiddleware_ImplicitOK(t *testing.T) {
	pool := testutil.NewPool()
	binder, err := postgres.NewBinder(postgres.DefaultClaimSetting)
	require.NoError(t, err)
	coord := rls.NewCoordinator(postgres.NewFromPool(pool), binder)

	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	handler := IdentityTransactionMiddleware(coord, identity.NewPeeker(""))(noop)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, "u1", testSecret))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	txs := pool.Txs()
	require.Len(t, txs, 1)
	assert.Equal(t, 1, txs[0].Commits())
}

// TestPurpose: Validates the verified-subject consistency check.
// Scope: Unit Test
// Security: A token verified for one subject must not run under another subject's binding
// Expected: 401 when the verified subject differs from the scope's subject or no scope exists.
// Test Case ID: HTTP-09
func TestAuthMiddleware_SubjectMismatch(t *testing.T) {
	pool := testutil.NewPool()
	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	s := scope.New("u1", tx, time.Now())

	reached := false
	handler := AuthMiddleware(identity.NewVerifier([]byte(testSecret), ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		assert.Equal(t, "u1", GetUserID(r.Context()))
	}))

	serve := func(ctx context.Context, subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		req.Header.Set("Authorization", bearer(t, subject, testSecret))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(scope.With(context.Background(), s), "u2"))
	assert.Equal(t, http.StatusUnauthorized, serve(context.Background(), "u1"))
	assert.False(t, reached)

	assert.Equal(t, http.StatusOK, serve(scope.With(context.Background(), s), "u1"))
	assert.True(t, reached)
}

// TestPurpose: Validates the health endpoint stays outside request scopes.
// Scope: Unit Test
// Expected: 200 without any connection checkout.
// Test Case ID: HTTP-10
func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", nil, bearer(t, "u1", testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, ts.pool.Checkouts())
}

// TestPurpose: Validates the metrics endpoint.
// Scope: Unit Test
// Expected: /metrics is served without a request scope and reports the scopes opened by earlier API calls.
// Test Case ID: HTTP-11
func TestRouter_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.surveyRepo.On("ListMine", mock.Anything, mock.Anything).Return([]*survey.Response{}, nil)

	rec := ts.do(http.MethodGet, "/api/v1/surveys/responses/mine", nil, bearer(t, "u1", testSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulse_rls_scopes_opened_total 1")
	assert.Contains(t, rec.Body.String(), "pulse_rls_scopes_active 0")
	assert.Equal(t, int64(1), ts.coord.Stats().Opened)
}

// TestPurpose: Pins the outcome when a request is aborted after its response was written.
// Scope: Unit Test
// Security: Work from an aborted request is never committed, even when the handler asked for it
// Expected: The client keeps the status already written; the transaction rolls back; nothing stays checked out.
// Test Case ID: HTTP-12
func TestIdentityTransactionMiddleware_AbortAfterWrite(t *testing.T) {
	newHandler := func(t *testing.T) (*testutil.Pool, *rls.Coordinator, func(http.Handler) http.Handler) {
		pool := testutil.NewPool()
		binder, err := postgres.NewBinder(postgres.DefaultClaimSetting)
		require.NoError(t, err)
		coord := rls.NewCoordinator(postgres.NewFromPool(pool), binder)
		return pool, coord, IdentityTransactionMiddleware(coord, identity.NewPeeker(""))
	}
	assertRolledBack := func(t *testing.T, pool *testutil.Pool, coord *rls.Coordinator) {
		t.Helper()
		txs := pool.Txs()
		require.Len(t, txs, 1)
		assert.Equal(t, 0, txs[0].Commits())
		assert.Equal(t, 1, txs[0].Rollbacks())
		assert.Equal(t, 0, pool.Outstanding())
		stats := coord.Stats()
		assert.Equal(t, int64(1), stats.RolledBack)
		assert.Equal(t, stats.Opened, stats.Released)
	}

	t.Run("Disconnect", func(t *testing.T) {
		pool, coord, mw := newHandler(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"r1"}`))
			cancel()
			<-r.Context().Done()
		}))

		req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)
		req.Header.Set("Authorization", bearer(t, "u1", testSecret))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, `{"id":"r1"}`, w.Body.String())
		assertRolledBack(t, pool, coord)
	})

	t.Run("Timeout", func(t *testing.T) {
		pool, coord, mw := newHandler(t)
		handler := middleware.Timeout(20 * time.Millisecond)(mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			<-r.Context().Done()
		})))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", bearer(t, "u1", testSecret))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assertRolledBack(t, pool, coord)
	})
}
