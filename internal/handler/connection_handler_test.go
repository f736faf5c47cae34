package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/service"
	"yakkl-background/internal/testutil"

	"github.com/go-chi/chi/v5"
)

func newConnectionRouter(repo *testutil.MockConnectionRepository) http.Handler {
	h := NewConnectionHandler(service.NewConnectionService(repo))
	r := chi.NewRouter()
	r.Get("/api/v1/connections", h.List)
	r.Delete("/api/v1/connections/{domain}", h.Revoke)
	return r
}

func TestConnectionHandler_List(t *testing.T) {
	repo := testutil.NewMockConnectionRepository()
	repo.Connections["app.uniswap.org"] = testutil.NewTestConnection(
		testutil.WithDomain("app.uniswap.org"),
		testutil.WithAddresses("0xabc"))
	router := newConnectionRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))

	testutil.AssertStatusCode(t, w, http.StatusOK)
	body := testutil.DecodeJSON[struct {
		Connections []domain.DomainConnection `json:"connections"`
	}](t, w)
	testutil.AssertLen(t, body.Connections, 1)
	testutil.AssertEqual(t, body.Connections[0].Domain, "app.uniswap.org")
	testutil.AssertEqual(t, body.Connections[0].Status, domain.StatusApproved)
}

func TestConnectionHandler_ListEmpty(t *testing.T) {
	router := newConnectionRouter(testutil.NewMockConnectionRepository())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertContains(t, w.Body.String(), `"connections":[]`)
}

func TestConnectionHandler_ListFailure(t *testing.T) {
	repo := testutil.NewMockConnectionRepository()
	repo.ListFunc = func(ctx context.Context) ([]*domain.DomainConnection, error) {
		return nil, errors.New("connection reset")
	}
	router := newConnectionRouter(repo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))

	testutil.AssertJSONError(t, w, http.StatusInternalServerError, "Failed to retrieve connections")
}

func TestConnectionHandler_Revoke(t *testing.T) {
	tests := []struct {
		name       string
		domain     string
		seed       bool
		revokeErr  error
		wantStatus int
	}{
		{"connected_domain", "app.uniswap.org", true, nil, http.StatusNoContent},
		{"unknown_domain", "unknown.org", false, nil, http.StatusNotFound},
		{"storage_failure", "app.uniswap.org", true, errors.New("lock timeout"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := testutil.NewMockConnectionRepository()
			if tt.seed {
				repo.Connections[tt.domain] = testutil.NewTestConnection(testutil.WithDomain(tt.domain))
			}
			if tt.revokeErr != nil {
				repo.RevokeFunc = func(ctx context.Context, d string) error { return tt.revokeErr }
			}
			router := newConnectionRouter(repo)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/connections/"+tt.domain, nil))

			testutil.AssertStatusCode(t, w, tt.wantStatus)
			if tt.wantStatus == http.StatusNoContent {
				_, still := repo.Connections[tt.domain]
				testutil.AssertFalse(t, still, "record should be removed")
			}
		})
	}
}
