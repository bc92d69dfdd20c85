package registry

import (
	"sync"

	"github.com/gobwas/glob"

	"pflow/pkg/logging"
)

var (
	globMu    sync.Mutex
	globCache = make(map[string]glob.Glob)
)

// matchGlob matches a type id against a compiled glob pattern. Patterns that
// fail to compile never match; a typo in settings must not hide every node.
func matchGlob(pattern, key string) bool {
	globMu.Lock()
	g, ok := globCache[pattern]
	if !ok {
		var err error
		g, err = glob.Compile(pattern)
		if err != nil {
			logging.Warn("Registry", "invalid filter pattern %q: %v", pattern, err)
			globCache[pattern] = nil
			globMu.Unlock()
			return false
		}
		globCache[pattern] = g
	}
	globMu.Unlock()
	if g == nil {
		return false
	}
	return g.Match(key)
}
