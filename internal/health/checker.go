// Package health runs the layered post-modification verification: critical
// artifacts, structural sanity, datastore reachability, the engine's own
// entry point, process liveness, and optional compile/test subprocess
// checks. Any failing check makes the overall verdict unhealthy.
package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"modguard/internal/config"
	"modguard/internal/database"
	"modguard/internal/proc"
)

// CheckResult is the outcome of one layer.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Report aggregates all layers into a single verdict.
type Report struct {
	Healthy  bool          `json:"healthy"`
	Checks   []CheckResult `json:"checks"`
	Duration time.Duration `json:"duration"`
}

// Opts narrows a run; the quick variant skips the expensive subprocess
// layers.
type Opts struct {
	SkipCompile bool
	SkipTests   bool
}

// Checker is one pluggable layer, small enough to stub in tests without
// spawning real processes.
type Checker interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// HealthChecker owns the built-in layers plus any injected extras.
type HealthChecker struct {
	root  string
	cfg   config.HealthConfig
	db    *database.Database
	extra []Checker
	log   *zap.Logger
}

// New builds a checker for one project root. db may be nil (datastore layer
// then reports a neutral skip).
func New(root string, cfg config.HealthConfig, db *database.Database, log *zap.Logger) *HealthChecker {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthChecker{root: root, cfg: cfg, db: db, log: log}
}

// AddChecker appends an extra layer, run after the built-ins.
func (h *HealthChecker) AddChecker(c Checker) {
	h.extra = append(h.extra, c)
}

// Run executes the full layered check list.
func (h *HealthChecker) Run(ctx context.Context) *Report {
	return h.RunQuick(ctx, Opts{})
}

// RunQuick executes the check list, optionally skipping the subprocess
// layers. Skipped layers count as a neutral pass.
func (h *HealthChecker) RunQuick(ctx context.Context, opts Opts) *Report {
	start := time.Now()
	report := &Report{Healthy: true}

	checks := []CheckResult{
		h.checkCriticalArtifacts(),
		h.checkStructuralSanity(),
		h.checkDatastore(),
		h.checkEngineEntry(),
		{Name: "process-liveness", Passed: true, Detail: "check is running"},
	}
	if !opts.SkipCompile {
		checks = append(checks, h.checkCompile(ctx))
	}
	if !opts.SkipTests {
		checks = append(checks, h.checkTests(ctx))
	}
	for _, c := range h.extra {
		checks = append(checks, c.Run(ctx))
	}

	for _, c := range checks {
		if !c.Passed && !c.Skipped {
			report.Healthy = false
			h.log.Warn("health check failed",
				zap.String("check", c.Name), zap.String("detail", c.Detail))
		}
	}
	report.Checks = checks
	report.Duration = time.Since(start)
	return report
}

// compiledMode reports whether the process runs from compiled output rather
// than source, which flips the expected artifact set.
func (h *HealthChecker) compiledMode() bool {
	if h.cfg.BundlePath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(h.cfg.BundlePath)))
	return err == nil
}

func (h *HealthChecker) checkCriticalArtifacts() CheckResult {
	res := CheckResult{Name: "critical-artifacts"}
	if h.compiledMode() {
		res.Passed = true
		res.Detail = "compiled bundle present at " + h.cfg.BundlePath
		return res
	}

	expected := h.cfg.CriticalFiles
	if h.cfg.SourceEntry != "" {
		expected = append([]string{h.cfg.SourceEntry}, expected...)
	}
	var missing []string
	for _, rel := range expected {
		if _, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(rel))); err != nil {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		res.Detail = "missing: " + strings.Join(missing, ", ")
		return res
	}
	res.Passed = true
	return res
}

// checkStructuralSanity does a cheap brace balance scan over the critical
// source files that exist. Heuristic: a wildly unbalanced file almost
// always means a truncated write.
func (h *HealthChecker) checkStructuralSanity() CheckResult {
	res := CheckResult{Name: "structural-sanity"}
	const tolerance = 2

	scanned := 0
	for _, rel := range h.cfg.CriticalFiles {
		data, err := os.ReadFile(filepath.Join(h.root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		scanned++
		delta := 0
		for _, b := range data {
			switch b {
			case '{':
				delta++
			case '}':
				delta--
			}
		}
		if delta > tolerance || delta < -tolerance {
			res.Detail = fmt.Sprintf("%s: brace imbalance of %d", rel, delta)
			return res
		}
	}
	if scanned == 0 {
		res.Skipped = true
		res.Detail = "no critical source files present"
	}
	res.Passed = true
	return res
}

func (h *HealthChecker) checkDatastore() CheckResult {
	res := CheckResult{Name: "datastore"}
	if h.db == nil {
		res.Skipped = true
		res.Passed = true
		res.Detail = "no datastore configured"
		return res
	}
	if err := h.db.Ping(); err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

func (h *HealthChecker) checkEngineEntry() CheckResult {
	res := CheckResult{Name: "engine-entry"}
	if h.cfg.EngineEntry == "" || h.compiledMode() {
		res.Skipped = true
		res.Passed = true
		return res
	}
	info, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(h.cfg.EngineEntry)))
	if err != nil {
		res.Detail = "safety engine entry point missing: " + h.cfg.EngineEntry
		return res
	}
	if info.Size() == 0 {
		res.Detail = "safety engine entry point is empty: " + h.cfg.EngineEntry
		return res
	}
	res.Passed = true
	return res
}

func (h *HealthChecker) checkCompile(ctx context.Context) CheckResult {
	return h.runCommand(ctx, "compile", h.cfg.CompileCommand)
}

func (h *HealthChecker) checkTests(ctx context.Context) CheckResult {
	res := h.runCommand(ctx, "test-suite", h.cfg.TestCommand)
	if !res.Skipped && res.Detail != "" {
		if passed, failed, ok := parseTestCounts(res.Detail); ok {
			res.Detail = fmt.Sprintf("%d passed, %d failed", passed, failed)
		} else {
			res.Detail = truncate(res.Detail, 400)
		}
	}
	return res
}

// runCommand executes a configured command as a bounded subprocess. A
// missing binary means build tooling is unavailable (stripped production
// image) and yields a neutral pass.
func (h *HealthChecker) runCommand(ctx context.Context, name string, argv []string) CheckResult {
	res := CheckResult{Name: name}
	if len(argv) == 0 {
		res.Skipped = true
		res.Passed = true
		res.Detail = "not configured"
		return res
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		res.Skipped = true
		res.Passed = true
		res.Detail = argv[0] + " unavailable in this environment"
		return res
	}

	out, err := proc.Run(ctx, h.root, h.cfg.CommandTimeout, h.log, argv[0], argv[1:]...)
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Detail = out.Output
	if out.TimedOut {
		res.Detail = fmt.Sprintf("timed out after %s", h.cfg.CommandTimeout)
		return res
	}
	if out.ExitCode != 0 {
		res.Detail = truncate(out.Output, 400)
		return res
	}
	res.Passed = true
	return res
}

var (
	passCountRe = regexp.MustCompile(`(?i)\b(\d+)\s+pass(?:ing|ed)?\b`)
	failCountRe = regexp.MustCompile(`(?i)\b(\d+)\s+fail(?:ing|ed)?\b`)
)

func parseTestCounts(output string) (passed, failed int, ok bool) {
	if m := passCountRe.FindStringSubmatch(output); m != nil {
		fmt.Sscanf(m[1], "%d", &passed)
		ok = true
	}
	if m := failCountRe.FindStringSubmatch(output); m != nil {
		fmt.Sscanf(m[1], "%d", &failed)
		ok = true
	}
	return passed, failed, ok
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}
