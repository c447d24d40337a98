// Package pathguard classifies modification targets as protected, allowed or
// out-of-scope, resolving symlink aliasing so a link inside an allowed
// directory cannot smuggle writes into a protected one.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Class is the verdict for a candidate path.
type Class int

const (
	ClassOutOfScope Class = iota
	ClassAllowed
	ClassProtected
)

func (c Class) String() string {
	switch c {
	case ClassAllowed:
		return "allowed"
	case ClassProtected:
		return "protected"
	default:
		return "out_of_scope"
	}
}

// Guard holds the deny/allow lists for one project root. Both lists hold
// slash-separated paths relative to the root; a list entry without a slash
// also matches by basename anywhere in the tree (".env", "go.mod").
type Guard struct {
	root         string
	allowedRoots []string
	protected    []string
	log          *zap.Logger
}

// New creates a Guard rooted at the given project directory. The root itself
// is symlink-resolved once so later resolution compares like with like.
func New(root string, allowedRoots, protectedPaths []string, log *zap.Logger) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		root:         abs,
		allowedRoots: normalizeList(allowedRoots),
		protected:    normalizeList(protectedPaths),
		log:          log,
	}, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.Trim(filepath.ToSlash(filepath.Clean(e)), "/")
		if e != "" && e != "." {
			out = append(out, e)
		}
	}
	return out
}

// Root returns the resolved project root.
func (g *Guard) Root() string { return g.root }

// Normalize cleans a caller-supplied path and rejects anything that is
// absolute or escapes the project root after normalization.
func (g *Guard) Normalize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute path %q is not permitted", p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." {
		return "", fmt.Errorf("path %q resolves to the project root", p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", p)
	}
	return filepath.ToSlash(clean), nil
}

// resolve maps a root-relative path to its symlink-resolved form, still
// relative to the root. For a path that does not exist yet, the deepest
// existing ancestor is resolved and the remainder reattached, so a pending
// create under a symlinked directory is still seen at its real location.
func (g *Guard) resolve(rel string) (string, error) {
	cur := filepath.Join(g.root, filepath.FromSlash(rel))
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if rest != "" {
				resolved = filepath.Join(resolved, rest)
			}
			out, err := filepath.Rel(g.root, resolved)
			if err != nil {
				return "", fmt.Errorf("path %q resolves outside the project root", rel)
			}
			out = filepath.ToSlash(out)
			if out == ".." || strings.HasPrefix(out, "../") {
				return "", fmt.Errorf("path %q resolves outside the project root", rel)
			}
			return out, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Nothing on the way exists; the nominal path stands.
			return rel, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func matchList(list []string, rel string) bool {
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}
	for _, e := range list {
		if rel == e || strings.HasPrefix(rel, e+"/") {
			return true
		}
		if !strings.Contains(e, "/") && base == e {
			return true
		}
	}
	return false
}

// Classify normalizes, symlink-resolves and classifies a path. Protected
// wins over allowed; a path is allowed only when both its nominal and
// resolved forms fall under an allowed root.
func (g *Guard) Classify(p string) (Class, error) {
	rel, err := g.Normalize(p)
	if err != nil {
		return ClassOutOfScope, err
	}
	resolved, err := g.resolve(rel)
	if err != nil {
		return ClassOutOfScope, err
	}

	if matchList(g.protected, rel) || matchList(g.protected, resolved) {
		if rel != resolved {
			g.log.Warn("symlink alias into protected path rejected",
				zap.String("path", rel), zap.String("resolved", resolved))
		}
		return ClassProtected, nil
	}
	if matchList(g.allowedRoots, rel) && matchList(g.allowedRoots, resolved) {
		return ClassAllowed, nil
	}
	return ClassOutOfScope, nil
}

// IsProtected reports whether the path (nominal or symlink-resolved) falls
// under the deny-list. Pure predicate over the current symlink graph.
func (g *Guard) IsProtected(p string) bool {
	class, err := g.Classify(p)
	return err == nil && class == ClassProtected
}

// IsAllowed reports whether the path may be modified.
func (g *Guard) IsAllowed(p string) bool {
	class, err := g.Classify(p)
	return err == nil && class == ClassAllowed
}

// Abs returns the absolute on-disk location for a root-relative path.
func (g *Guard) Abs(rel string) string {
	return filepath.Join(g.root, filepath.FromSlash(rel))
}

// Exists reports whether the root-relative path currently exists.
func (g *Guard) Exists(rel string) bool {
	_, err := os.Stat(g.Abs(rel))
	return err == nil
}
