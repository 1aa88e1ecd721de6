// Package registry implements the Capability Registry: the in-memory map
// from tool name to owning server, and from server name to its descriptor.
package registry

import (
	"sync"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/logger"
)

// Registry holds the current tool ownership and server descriptor maps.
// All mutation happens from the indexer task; reads may run concurrently
// with each other and with a mutation.
type Registry struct {
	mu      sync.RWMutex
	owners  map[string]string              // tool_name -> server_name
	servers map[string]config.ServerConfig // server_name -> descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		owners:  make(map[string]string),
		servers: make(map[string]config.ServerConfig),
	}
}

// RegisterServer records or replaces a server's descriptor.
func (r *Registry) RegisterServer(desc config.ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[desc.Name] = desc
}

// RegisterToolOwner binds tool to server, overwriting any existing binding.
// On collision with a different prior owner, a warning is logged; this is
// the documented last-writer-wins policy, not an error.
func (r *Registry) RegisterToolOwner(tool, server string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[tool]; ok && prev != server {
		logger.Warnf("tool %q re-registered: owner changing from %q to %q", tool, prev, server)
	}
	r.owners[tool] = server
}

// ResolveServer returns the descriptor owning tool, or false if no server
// currently claims it.
func (r *Registry) ResolveServer(tool string) (config.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serverName, ok := r.owners[tool]
	if !ok {
		return config.ServerConfig{}, false
	}
	desc, ok := r.servers[serverName]
	return desc, ok
}

// UnregisterTool removes tool's ownership binding, if any.
func (r *Registry) UnregisterTool(tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, tool)
}

// UnregisterServer removes server's descriptor and every tool it owns.
func (r *Registry) UnregisterServer(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.servers, server)
	for tool, owner := range r.owners {
		if owner == server {
			delete(r.owners, tool)
		}
	}
}

// Snapshot returns a point-in-time copy of the tool-ownership map, safe for
// the caller to range over without holding the registry's lock.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.owners))
	for k, v := range r.owners {
		out[k] = v
	}
	return out
}

// ServerDescriptor returns the descriptor registered for server, if any.
func (r *Registry) ServerDescriptor(server string) (config.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.servers[server]
	return desc, ok
}

// ToolCount returns the number of currently-owned tool names.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
