// internal/health/checker_test.go
package health

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modguard/internal/config"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		CriticalFiles:  []string{"src/app.ts"},
		SourceEntry:    "src/index.ts",
		EngineEntry:    "src/engine.ts",
		CommandTimeout: 5 * time.Second,
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func findCheck(t *testing.T, r *Report, name string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func quickOpts() Opts {
	return Opts{SkipCompile: true, SkipTests: true}
}

func TestHealthyTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "export const app = () => { return 1 }")
	writeFile(t, root, "src/index.ts", "import { app } from './app'")
	writeFile(t, root, "src/engine.ts", "export const engine = true")

	h := New(root, testHealthConfig(), nil, nil)
	report := h.RunQuick(context.Background(), quickOpts())

	assert.True(t, report.Healthy)
	assert.True(t, findCheck(t, report, "critical-artifacts").Passed)
	assert.True(t, findCheck(t, report, "engine-entry").Passed)
	assert.True(t, findCheck(t, report, "process-liveness").Passed)
}

func TestMissingCriticalFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/index.ts", "entry")
	writeFile(t, root, "src/engine.ts", "engine")
	// src/app.ts deliberately absent.

	h := New(root, testHealthConfig(), nil, nil)
	report := h.RunQuick(context.Background(), quickOpts())

	assert.False(t, report.Healthy)
	c := findCheck(t, report, "critical-artifacts")
	assert.False(t, c.Passed)
	assert.Contains(t, c.Detail, "src/app.ts")
}

func TestEngineEntry(t *testing.T) {
	t.Run("MissingFails", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "src/app.ts", "app content here")
		writeFile(t, root, "src/index.ts", "entry")

		h := New(root, testHealthConfig(), nil, nil)
		report := h.RunQuick(context.Background(), quickOpts())
		assert.False(t, report.Healthy)
		assert.Contains(t, findCheck(t, report, "engine-entry").Detail, "missing")
	})

	t.Run("EmptyFails", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "src/app.ts", "app content here")
		writeFile(t, root, "src/index.ts", "entry")
		writeFile(t, root, "src/engine.ts", "")

		h := New(root, testHealthConfig(), nil, nil)
		report := h.RunQuick(context.Background(), quickOpts())
		assert.False(t, report.Healthy)
		assert.Contains(t, findCheck(t, report, "engine-entry").Detail, "empty")
	})
}

func TestStructuralSanity(t *testing.T) {
	root := t.TempDir()
	// Truncated-looking file: far more opens than closes.
	writeFile(t, root, "src/app.ts", "function a() { if (x) { while (y) { z( { {")
	writeFile(t, root, "src/index.ts", "entry")
	writeFile(t, root, "src/engine.ts", "engine")

	h := New(root, testHealthConfig(), nil, nil)
	report := h.RunQuick(context.Background(), quickOpts())

	assert.False(t, report.Healthy)
	assert.Contains(t, findCheck(t, report, "structural-sanity").Detail, "imbalance")
}

func TestCompiledModeSkipsSourceChecks(t *testing.T) {
	root := t.TempDir()
	cfg := testHealthConfig()
	cfg.BundlePath = "dist"
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0755))

	h := New(root, cfg, nil, nil)
	report := h.RunQuick(context.Background(), quickOpts())

	assert.True(t, report.Healthy)
	c := findCheck(t, report, "critical-artifacts")
	assert.True(t, c.Passed)
	assert.Contains(t, c.Detail, "dist")
	assert.True(t, findCheck(t, report, "engine-entry").Skipped)
}

func TestSubprocessChecks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "export const ok = true")
	writeFile(t, root, "src/index.ts", "entry")
	writeFile(t, root, "src/engine.ts", "engine")

	t.Run("PassingCommand", func(t *testing.T) {
		cfg := testHealthConfig()
		cfg.CompileCommand = []string{"true"}
		cfg.TestCommand = []string{"sh", "-c", "echo '12 passing'; exit 0"}

		h := New(root, cfg, nil, nil)
		report := h.Run(context.Background())
		assert.True(t, report.Healthy)
		assert.Contains(t, findCheck(t, report, "test-suite").Detail, "12 passed")
	})

	t.Run("FailingCommand", func(t *testing.T) {
		cfg := testHealthConfig()
		cfg.CompileCommand = []string{"false"}

		h := New(root, cfg, nil, nil)
		report := h.RunQuick(context.Background(), Opts{SkipTests: true})
		assert.False(t, report.Healthy)
		assert.False(t, findCheck(t, report, "compile").Passed)
	})

	t.Run("MissingBinaryIsNeutral", func(t *testing.T) {
		cfg := testHealthConfig()
		cfg.CompileCommand = []string{"definitely-not-a-real-binary-xyz"}

		h := New(root, cfg, nil, nil)
		report := h.RunQuick(context.Background(), Opts{SkipTests: true})
		assert.True(t, report.Healthy)
		c := findCheck(t, report, "compile")
		assert.True(t, c.Skipped)
		assert.Contains(t, c.Detail, "unavailable")
	})
}

type stubCheck struct {
	name   string
	passed bool
}

func (s stubCheck) Name() string { return s.name }
func (s stubCheck) Run(ctx context.Context) CheckResult {
	return CheckResult{Name: s.name, Passed: s.passed, Detail: "stubbed"}
}

func TestExtraCheckers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/app.ts", "export const ok = true")
	writeFile(t, root, "src/index.ts", "entry")
	writeFile(t, root, "src/engine.ts", "engine")

	h := New(root, testHealthConfig(), nil, nil)
	h.AddChecker(stubCheck{name: "custom-probe", passed: false})

	report := h.RunQuick(context.Background(), quickOpts())
	assert.False(t, report.Healthy)
	assert.False(t, findCheck(t, report, "custom-probe").Passed)
}

func TestParseTestCounts(t *testing.T) {
	passed, failed, ok := parseTestCounts("  47 passing (2s)\n  2 failing\n")
	assert.True(t, ok)
	assert.Equal(t, 47, passed)
	assert.Equal(t, 2, failed)

	_, _, ok = parseTestCounts(strings.Repeat("unrelated output\n", 3))
	assert.False(t, ok)
}
