package presence

import (
	"context"
	"log"
	"sort"
	"sync"

	"livechat-server/internal/infrastructure/redis"
)

// Registry tracks which admin identities currently have live connections.
// An admin is online iff its connection set is non-empty: closing one of
// several tabs must not flip the admin offline.
//
// The in-process maps are the source of truth for fan-out decisions; the
// Redis hash is a best-effort mirror so presence is queryable across nodes.
type Registry struct {
	mu     sync.RWMutex
	admins map[string]map[string]struct{} // adminID -> set of connection ids
	conns  map[string]string              // connectionID -> adminID

	redis *redis.Client // nil when running without Redis
}

func NewRegistry(redisClient *redis.Client) *Registry {
	return &Registry{
		admins: make(map[string]map[string]struct{}),
		conns:  make(map[string]string),
		redis:  redisClient,
	}
}

// Join registers a connection for an admin. Idempotent: re-joining with the
// same connection id is a no-op. Returns true when this connection took the
// admin from offline to online.
func (r *Registry) Join(ctx context.Context, adminID, connectionID string) bool {
	r.mu.Lock()
	set, ok := r.admins[adminID]
	if !ok {
		set = make(map[string]struct{})
		r.admins[adminID] = set
	}
	wasOffline := len(set) == 0
	set[connectionID] = struct{}{}
	r.conns[connectionID] = adminID
	r.mu.Unlock()

	if r.redis != nil {
		if err := r.redis.SetAdminOnline(ctx, adminID); err != nil {
			log.Printf("Failed to mirror admin %s online to Redis: %v", adminID, err)
		}
	}
	return wasOffline
}

// Leave removes a connection. Returns the owning admin id and whether the
// admin went offline (this was its last connection). Unknown connection ids
// (guest sockets, already-pruned entries) return ("", false).
func (r *Registry) Leave(ctx context.Context, connectionID string) (string, bool) {
	r.mu.Lock()
	adminID, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.conns, connectionID)

	set := r.admins[adminID]
	delete(set, connectionID)
	offline := len(set) == 0
	if offline {
		delete(r.admins, adminID)
	}
	r.mu.Unlock()

	if offline && r.redis != nil {
		if err := r.redis.SetAdminOffline(ctx, adminID); err != nil {
			log.Printf("Failed to mirror admin %s offline to Redis: %v", adminID, err)
		}
	}
	return adminID, offline
}

func (r *Registry) IsOnline(adminID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins[adminID]) > 0
}

// AdminFor resolves the admin owning a connection, if any.
func (r *Registry) AdminFor(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adminID, ok := r.conns[connectionID]
	return adminID, ok
}

// OnlineAdmins returns the ids of all admins with at least one live
// connection, sorted for deterministic output.
func (r *Registry) OnlineAdmins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.admins))
	for adminID := range r.admins {
		out = append(out, adminID)
	}
	sort.Strings(out)
	return out
}

// Connections returns the live connection ids for one admin.
func (r *Registry) Connections(adminID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.admins[adminID]
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// AllConnections returns every live admin connection id.
func (r *Registry) AllConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns))
	for connID := range r.conns {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}
