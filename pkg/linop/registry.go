// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Token identifies a registered pair of host functions. It is unique for the lifetime of the process.
type Token string

type registryEntry struct {
	name               string
	forward, transpose HostFunc
}

// Registry holds the host functions of the operations created with it, and resolves their tokens at
// execution time. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Token]*registryEntry
}

// NewRegistry returns a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Token]*registryEntry)}
}

// register the pair of host functions under a new token.
func (r *Registry) register(name string, forward, transpose HostFunc) Token {
	token := Token(fmt.Sprintf("%s#%s", name, uuid.NewString()))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = &registryEntry{name: name, forward: forward, transpose: transpose}
	klog.V(1).Infof("linop: registered %q as %s (%d operations registered)", name, token, len(r.entries))
	return token
}

// Lookup returns the forward and transpose host functions registered under token.
// It returns an error wrapping ErrUnknownToken if the token is not registered.
func (r *Registry) Lookup(token Token) (forward, transpose HostFunc, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, found := r.entries[token]
	if !found {
		return nil, nil, errors.Wrapf(ErrUnknownToken, "token %q", token)
	}
	return entry.forward, entry.transpose, nil
}

// Unregister removes the host functions registered under token. Graphs already built with the
// operation fail to execute afterwards.
//
// It returns whether the token was registered.
func (r *Registry) Unregister(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.entries[token]
	if !found {
		return false
	}
	delete(r.entries, token)
	klog.V(1).Infof("linop: unregistered %q (%s)", entry.name, token)
	return true
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Tokens returns the registered tokens, sorted.
func (r *Registry) Tokens() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]Token, 0, len(r.entries))
	for token := range r.entries {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	return tokens
}
