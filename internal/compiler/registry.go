package compiler

import (
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/routepath"
)

// Collision records a route that replaced an earlier registration at the same
// method and normalized path.
type Collision struct {
	Verb     pveschema.Verb `json:"method"`
	Path     string         `json:"path"`
	Replaced string         `json:"replaced"`
}

// Registry is an ordered set of compiled routes keyed by method and path.
// Paths are compared with placeholder names blanked, so "/a/{x}" and "/a/{y}"
// share a key. Registering a route at an existing key replaces the earlier
// route in place.
type Registry struct {
	routes     []*Route
	index      map[routeKey]int
	collisions []Collision
}

type routeKey struct {
	verb pveschema.Verb
	path string
}

func keyFor(verb pveschema.Verb, path string) routeKey {
	return routeKey{verb: verb, path: routepath.Normalize(path)}
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[routeKey]int)}
}

// Add registers route. A later route at the same method and path wins.
func (r *Registry) Add(route *Route) {
	key := keyFor(route.Verb, route.Path)
	if i, ok := r.index[key]; ok {
		r.collisions = append(r.collisions, Collision{
			Verb:     route.Verb,
			Path:     route.Path,
			Replaced: r.routes[i].Path,
		})
		r.routes[i] = route
		return
	}

	r.index[key] = len(r.routes)
	r.routes = append(r.routes, route)
}

// Merge adds every route of other, in order, along with the collisions other
// has already seen.
func (r *Registry) Merge(other *Registry) {
	r.collisions = append(r.collisions, other.collisions...)
	for _, route := range other.routes {
		r.Add(route)
	}
}

// Routes returns the registered routes in registration order.
func (r *Registry) Routes() []*Route {
	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

func (r *Registry) Len() int {
	return len(r.routes)
}

// Lookup returns the route registered for verb at path, or nil. Placeholder
// names in path are ignored.
func (r *Registry) Lookup(verb pveschema.Verb, path string) *Route {
	i, ok := r.index[keyFor(verb, path)]
	if !ok {
		return nil
	}
	return r.routes[i]
}

// Collisions lists every replacement that happened while building.
func (r *Registry) Collisions() []Collision {
	return r.collisions
}
