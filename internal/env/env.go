// Package env composes the environment passed to agent server spawns:
// the daemon's own environment as the base, configured overrides on top,
// then per-spawn variables, with simple ${VAR} expansion.
package env

import (
	"os"
	"strings"
)

type Vars map[string]string

type Env struct {
	overrides Vars
	base      Vars // cached from the OS environment
}

// New returns an Env seeded with the current process environment as the
// base. Set and FromOS mutate the Env and belong to construction time;
// Compose only reads and may be called concurrently afterwards.
func New() *Env {
	e := &Env{overrides: make(Vars)}
	e.FromOS()
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Vars)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.base = base
}

// Set adds a configured override applied to every spawn.
func (e *Env) Set(k, v string) {
	if e.overrides == nil {
		e.overrides = make(Vars)
	}
	e.overrides[k] = v
}

// Compose builds the final environment in "K=V" form. Precedence, lowest
// first: OS environment, configured overrides, perSpawn. ${VAR}
// references resolve against the composed map, one pass, no recursion.
func (e *Env) Compose(perSpawn []string) []string {
	m := make(Vars, len(e.base)+len(e.overrides)+len(perSpawn))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.overrides {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perSpawn {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			m[k] = kv[i+1:]
		}
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
