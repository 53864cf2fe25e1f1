package builder

import (
	"fmt"
	"strings"
	"sync"

	"github.com/simon020286/biopipe/config"
	"github.com/simon020286/biopipe/models"
)

// BodyFactory builds a stage body from its node definition.
type BodyFactory func(node *config.NodeConfig) (models.Body, error)

// bodyType pairs a factory with the predicate that claims stage nodes
// for it. Every stage node must be claimed by exactly one type: a node
// claimed by none has no body, one claimed by several (say exec and
// script both set) is a definition error.
type bodyType struct {
	kind   string
	claims func(*config.NodeConfig) bool
	build  BodyFactory
}

var (
	mu    sync.RWMutex
	types []bodyType
)

// RegisterBodyType registers a body kind together with the predicate
// deciding which stage nodes it builds. Called by init() in body
// packages. Re-registering a kind replaces it; registration order is
// kept for error messages.
func RegisterBodyType(kind string, claims func(*config.NodeConfig) bool, build BodyFactory) {
	mu.Lock()
	defer mu.Unlock()
	for i := range types {
		if types[i].kind == kind {
			types[i] = bodyType{kind: kind, claims: claims, build: build}
			return
		}
	}
	types = append(types, bodyType{kind: kind, claims: claims, build: build})
}

// CreateBody resolves which registered body type claims the node and
// builds the body. Fan-out nodes carry segments, not bodies, and are
// rejected here.
func CreateBody(node *config.NodeConfig) (models.Body, error) {
	if node.IsFanout() {
		return nil, fmt.Errorf("fan-out node %q has no stage body", node.Name)
	}

	mu.RLock()
	defer mu.RUnlock()

	var matched []bodyType
	for _, t := range types {
		if t.claims(node) {
			matched = append(matched, t)
		}
	}

	switch len(matched) {
	case 1:
		return matched[0].build(node)
	case 0:
		return nil, fmt.Errorf("stage %q matches no registered body type (have: %s)",
			node.Name, strings.Join(kindsLocked(), ", "))
	default:
		kinds := make([]string, len(matched))
		for i, t := range matched {
			kinds[i] = t.kind
		}
		return nil, fmt.Errorf("stage %q is claimed by more than one body type: %s",
			node.Name, strings.Join(kinds, ", "))
	}
}

// ListBodyTypes returns all registered body kinds in registration order.
func ListBodyTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return kindsLocked()
}

func kindsLocked() []string {
	kinds := make([]string, 0, len(types))
	for _, t := range types {
		kinds = append(kinds, t.kind)
	}
	return kinds
}
