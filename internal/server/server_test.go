package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiered-cache/internal/cache"
	"tiered-cache/internal/config"
	"tiered-cache/internal/database"
	"tiered-cache/internal/redis"
)

func setupServer(t *testing.T) (*Server, database.UserStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	users, err := database.Open(&config.Config{DatabaseType: "sqlite", DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })

	props := cache.DefaultProperties()
	manager := cache.NewTieredCacheManager(client, cache.NewMessagePublisher(client), props, nil)

	return New(manager, users, client), users
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_GetUser(t *testing.T) {
	s, users := setupServer(t)

	t.Run("missing user is 404 and the absence is cached", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/api/users/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		// the loader is not consulted again: creating the row now does not
		// resurrect the user until the sentinel expires or is evicted
		require.NoError(t, users.UpsertUser(context.Background(), &database.User{ID: "ghost", Name: "casper"}))
		rec = doRequest(t, s, "GET", "/api/users/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("existing user is served and cached", func(t *testing.T) {
		require.NoError(t, users.UpsertUser(context.Background(), &database.User{ID: "7", Name: "ada", Email: "ada@example.com"}))

		rec := doRequest(t, s, "GET", "/api/users/7", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got database.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "ada", got.Name)

		// reads are served from the cache: a direct DB change is invisible
		require.NoError(t, users.UpsertUser(context.Background(), &database.User{ID: "7", Name: "someone else"}))
		rec = doRequest(t, s, "GET", "/api/users/7", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "ada", got.Name)
	})
}

func TestServer_PutUser(t *testing.T) {
	s, _ := setupServer(t)

	rec := doRequest(t, s, "PUT", "/api/users/9", `{"name":"grace","email":"grace@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// write-through: the next read sees the new value without a loader trip
	rec = doRequest(t, s, "GET", "/api/users/9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got database.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "grace", got.Name)

	t.Run("bad body", func(t *testing.T) {
		rec := doRequest(t, s, "PUT", "/api/users/9", `{broken`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_DeleteUser(t *testing.T) {
	s, _ := setupServer(t)

	rec := doRequest(t, s, "PUT", "/api/users/11", `{"name":"brief"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "DELETE", "/api/users/11", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, "GET", "/api/users/11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CacheEndpoints(t *testing.T) {
	s, _ := setupServer(t)

	// touch the user cache so it exists
	doRequest(t, s, "GET", "/api/users/7", "")

	t.Run("metrics", func(t *testing.T) {
		rec := doRequest(t, s, "GET", "/api/cache/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var metrics map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
		assert.Contains(t, metrics, UserCacheName)
	})

	t.Run("clear existing cache", func(t *testing.T) {
		rec := doRequest(t, s, "DELETE", "/api/cache/"+UserCacheName, "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("clear unknown cache", func(t *testing.T) {
		rec := doRequest(t, s, "DELETE", "/api/cache/who_knows", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_HealthCheck(t *testing.T) {
	s, _ := setupServer(t)

	rec := doRequest(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
