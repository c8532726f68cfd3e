// Package server exposes the demo HTTP surface: user reads served through
// the tiered cache, write-through updates, and cache diagnostics.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"tiered-cache/internal/cache"
	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
	"tiered-cache/internal/database"
	"tiered-cache/internal/localstore"
	"tiered-cache/internal/redis"
)

// UserCacheName is the cache backing /api/users reads.
const UserCacheName = "user_info"

type Server struct {
	manager *cache.TieredCacheManager
	users   database.UserStore
	client  *redis.Client
	logger  logging.Logger
	router  *mux.Router
}

// New wires the demo routes.
func New(manager *cache.TieredCacheManager, users database.UserStore, client *redis.Client) *Server {
	s := &Server{
		manager: manager,
		users:   users,
		client:  client,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "server"}),
		router:  mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/users/{id}", s.GetUser).Methods("GET")
	api.HandleFunc("/users/{id}", s.PutUser).Methods("PUT")
	api.HandleFunc("/users/{id}", s.DeleteUser).Methods("DELETE")
	api.HandleFunc("/cache/metrics", s.CacheMetrics).Methods("GET")
	api.HandleFunc("/cache/{name}", s.ClearCache).Methods("DELETE")
	s.router.HandleFunc("/health", s.HealthCheck).Methods("GET")

	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// GetUser serves a user through the cache, loading from the database on a
// miss. A database miss is cached as a null sentinel and served as 404.
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userCache := s.manager.GetCache(UserCacheName)
	if userCache == nil {
		writeError(w, http.StatusInternalServerError, "cache not configured: "+UserCacheName)
		return
	}

	value, err := userCache.GetWithLoader(r.Context(), id, func(ctx context.Context) (interface{}, error) {
		user, err := s.users.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			// confirmed absence: cached as the null sentinel
			return nil, nil
		}
		return user, nil
	})
	if err != nil {
		if errors.IsLockAcquire(err) {
			writeError(w, http.StatusTooManyRequests, "too many concurrent requests, please try again later")
			return
		}
		s.logger.Error("Failed to load user", err, logging.Field{Key: "id", Value: id})
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if value == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, value)
}

// PutUser updates the source of truth and writes through the cache.
func (s *Server) PutUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var user database.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user.ID = id

	if err := s.users.UpsertUser(r.Context(), &user); err != nil {
		s.logger.Error("Failed to upsert user", err, logging.Field{Key: "id", Value: id})
		writeError(w, http.StatusInternalServerError, "failed to store user")
		return
	}

	userCache := s.manager.GetCache(UserCacheName)
	if userCache != nil {
		if err := userCache.Put(r.Context(), id, &user); err != nil {
			s.logger.Error("Failed to write through cache", err, logging.Field{Key: "id", Value: id})
		}
	}

	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes the user and evicts it everywhere.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.users.DeleteUser(r.Context(), id); err != nil {
		s.logger.Error("Failed to delete user", err, logging.Field{Key: "id", Value: id})
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	userCache := s.manager.GetCache(UserCacheName)
	if userCache != nil {
		if err := userCache.Evict(r.Context(), id); err != nil {
			s.logger.Error("Failed to evict cache entry", err, logging.Field{Key: "id", Value: id})
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// CacheMetrics reports the local tier counters of every cache.
func (s *Server) CacheMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := make(map[string]localstore.Stats)
	for _, tiered := range s.manager.AllTieredCaches() {
		metrics[tiered.Name()] = tiered.LocalStats()
	}
	writeJSON(w, http.StatusOK, metrics)
}

// ClearCache clears one cache according to its clear mode.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tiered := s.manager.GetTieredCache(name)
	if tiered == nil {
		writeError(w, http.StatusNotFound, "cache not found: "+name)
		return
	}
	if err := tiered.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear cache", err, logging.Field{Key: "cache", Value: name})
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck reports Redis connectivity.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
