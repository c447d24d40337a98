// Package validate applies structural heuristics to proposed file content.
// It never judges whether a change is correct, only whether it is plausible
// enough to apply without an obvious self-inflicted wound.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"modguard/internal/change"
)

// Result is the outcome for a whole batch. An empty Errors slice is required
// to proceed; Warnings are informational.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Limits are the tunable ceilings and floors.
type Limits struct {
	MaxContentBytes   int
	MinContentBytes   int
	MaxReductionRatio float64
	ReductionMinSize  int
}

// input is what a rule sees for one request.
type input struct {
	req       change.Request
	old       []byte
	oldExists bool
	lim       Limits
}

// Rule is a single named validation heuristic. Rules are additive and
// independently testable; new heuristics go into defaultRules.
type Rule struct {
	Name  string
	Check func(in input) (errs, warns []string)
}

// Validator runs the rule table against a batch, reading current file
// content from disk for reduction and export comparisons.
type Validator struct {
	root  string
	lim   Limits
	rules []Rule
	log   *zap.Logger
}

// New builds a validator rooted at the project directory.
func New(root string, lim Limits, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{root: root, lim: lim, rules: defaultRules(), log: log}
}

// ValidateBatch applies every rule to every request. The batch is rejected
// as a whole if any request produces an error.
func (v *Validator) ValidateBatch(reqs []change.Request) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}

	for _, req := range reqs {
		if !req.Action.Valid() {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: unknown action %q", req.Path, req.Action))
			continue
		}
		if req.Action == change.ActionDelete {
			// Content heuristics do not apply to deletions.
			continue
		}

		in := input{req: req, lim: v.lim}
		if data, err := os.ReadFile(filepath.Join(v.root, filepath.FromSlash(req.Path))); err == nil {
			in.old = data
			in.oldExists = true
		}

		for _, rule := range v.rules {
			errs, warns := rule.Check(in)
			for _, e := range errs {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", req.Path, e))
			}
			for _, w := range warns {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", req.Path, w))
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		v.log.Warn("batch rejected by content validation",
			zap.Int("errors", len(res.Errors)), zap.Int("warnings", len(res.Warnings)))
	}
	return res
}

// ===== Rule table =====

var (
	dangerousPatterns = []struct {
		re  *regexp.Regexp
		msg string
	}{
		{regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f[a-z]*\s+/(?:\s|$|\*)`), "root-level recursive delete"},
		{regexp.MustCompile(`(?i)\brm\s+-[a-z]*f[a-z]*r[a-z]*\s+/(?:\s|$|\*)`), "root-level recursive delete"},
		{regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\b`), "schema-dropping statement"},
		{regexp.MustCompile(`(?i)\btruncate\s+table\b`), "table-truncating statement"},
	}

	jsExportRe = regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	goExportRe = regexp.MustCompile(`(?m)^(?:func|type|var|const)\s+([A-Z][A-Za-z0-9_]*)`)

	importRe = regexp.MustCompile(`(?:import\s+[^'"\x60\n]*from\s*|require\s*\(\s*|import\s*\(\s*)['"]([^'"]+)['"]`)

	sourceExts = map[string]bool{
		".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
		".mjs": true, ".cjs": true, ".c": true, ".cc": true, ".cpp": true,
		".h": true, ".java": true, ".rs": true,
	}
)

const balanceTolerance = 2

func defaultRules() []Rule {
	return []Rule{
		{Name: "size-ceiling", Check: checkSizeCeiling},
		{Name: "emptiness-floor", Check: checkEmptinessFloor},
		{Name: "content-reduction", Check: checkContentReduction},
		{Name: "export-preservation", Check: checkExportPreservation},
		{Name: "self-import", Check: checkSelfImport},
		{Name: "dangerous-patterns", Check: checkDangerousPatterns},
		{Name: "brace-balance", Check: checkBraceBalance},
	}
}

func checkSizeCeiling(in input) ([]string, []string) {
	if len(in.req.Content) > in.lim.MaxContentBytes {
		return []string{fmt.Sprintf("content is %d bytes, above the %d byte ceiling", len(in.req.Content), in.lim.MaxContentBytes)}, nil
	}
	return nil, nil
}

func checkEmptinessFloor(in input) ([]string, []string) {
	if len(strings.TrimSpace(in.req.Content)) < in.lim.MinContentBytes {
		return []string{fmt.Sprintf("content is near-empty (<%d bytes); intentional removal must use the delete action", in.lim.MinContentBytes)}, nil
	}
	return nil, nil
}

func checkContentReduction(in input) ([]string, []string) {
	if in.req.Action != change.ActionModify || !in.oldExists {
		return nil, nil
	}
	oldLen := len(in.old)
	if oldLen < in.lim.ReductionMinSize {
		return nil, nil
	}
	reduction := 1 - float64(len(in.req.Content))/float64(oldLen)
	if reduction > in.lim.MaxReductionRatio {
		return []string{fmt.Sprintf(
			"anti-break: content shrinks by %.0f%% (from %d to %d bytes); split large rewrites into smaller steps",
			reduction*100, oldLen, len(in.req.Content))}, nil
	}
	return nil, nil
}

func checkExportPreservation(in input) ([]string, []string) {
	if in.req.Action != change.ActionModify || !in.oldExists {
		return nil, nil
	}
	oldExports := scanExports(string(in.old))
	if len(oldExports) == 0 {
		return nil, nil
	}
	newExports := make(map[string]bool)
	for _, name := range scanExports(in.req.Content) {
		newExports[name] = true
	}
	var dropped []string
	for _, name := range oldExports {
		if !newExports[name] {
			dropped = append(dropped, name)
		}
	}
	if len(dropped)*2 > len(oldExports) {
		return nil, []string{fmt.Sprintf(
			"drops %d of %d exported symbols (%s); downstream files may depend on them",
			len(dropped), len(oldExports), strings.Join(dropped, ", "))}
	}
	return nil, nil
}

func checkSelfImport(in input) ([]string, []string) {
	own := strings.TrimSuffix(in.req.Path, filepath.Ext(in.req.Path))
	dir := filepath.ToSlash(filepath.Dir(in.req.Path))
	for _, m := range importRe.FindAllStringSubmatch(in.req.Content, -1) {
		spec := m[1]
		if !strings.HasPrefix(spec, ".") {
			continue
		}
		resolved := filepath.ToSlash(filepath.Clean(filepath.Join(dir, spec)))
		resolved = strings.TrimSuffix(resolved, filepath.Ext(resolved))
		if resolved == own {
			return []string{fmt.Sprintf("imports its own module path %q, which would create a load-time cycle", spec)}, nil
		}
	}
	return nil, nil
}

func checkDangerousPatterns(in input) ([]string, []string) {
	var errs []string
	for _, p := range dangerousPatterns {
		if loc := p.re.FindString(in.req.Content); loc != "" {
			errs = append(errs, fmt.Sprintf("forbidden destructive pattern (%s): %q", p.msg, strings.TrimSpace(loc)))
		}
	}
	return errs, nil
}

func checkBraceBalance(in input) ([]string, []string) {
	if !sourceExts[strings.ToLower(filepath.Ext(in.req.Path))] {
		return nil, nil
	}
	braces, parens := balance(in.req.Content)
	var warns []string
	if abs(braces) > balanceTolerance {
		warns = append(warns, fmt.Sprintf("brace imbalance of %d", braces))
	}
	if abs(parens) > balanceTolerance {
		warns = append(warns, fmt.Sprintf("parenthesis imbalance of %d", parens))
	}
	return nil, warns
}

// scanExports pulls top-level exported symbol names with a lightweight
// pattern scan. Heuristic only; it intentionally ignores re-exports.
func scanExports(content string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, re := range []*regexp.Regexp{jsExportRe, goExportRe} {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// balance counts unmatched braces and parentheses, skipping string and
// comment contexts coarsely (good enough for a warning-level heuristic).
func balance(content string) (braces, parens int) {
	for _, r := range content {
		switch r {
		case '{':
			braces++
		case '}':
			braces--
		case '(':
			parens++
		case ')':
			parens--
		}
	}
	return braces, parens
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
