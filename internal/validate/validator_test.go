// internal/validate/validator_test.go
package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modguard/internal/change"
)

func testLimits() Limits {
	return Limits{
		MaxContentBytes:   1024,
		MinContentBytes:   10,
		MaxReductionRatio: 0.85,
		ReductionMinSize:  100,
	}
}

func newTestValidator(t *testing.T) (*Validator, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, testLimits(), nil), root
}

func writeOld(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestSizeCeiling(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.ValidateBatch([]change.Request{{
		Path:    "src/big.ts",
		Action:  change.ActionCreate,
		Content: strings.Repeat("x", 2048),
	}})
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "ceiling")
}

func TestEmptinessFloor(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.ValidateBatch([]change.Request{{
		Path:    "src/empty.ts",
		Action:  change.ActionModify,
		Content: "  \n ",
	}})
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "delete action")
}

func TestContentReduction(t *testing.T) {
	v, root := newTestValidator(t)
	old := strings.Repeat("// line of code\n", 40) // 640 bytes

	t.Run("ExcessiveShrinkRejected", func(t *testing.T) {
		writeOld(t, root, "src/shrink.ts", old)
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/shrink.ts",
			Action:  change.ActionModify,
			Content: "const x = 1234\n", // well above 85% reduction
		}})
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "anti-break")
	})

	t.Run("ModerateShrinkAllowed", func(t *testing.T) {
		writeOld(t, root, "src/trim.ts", old)
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/trim.ts",
			Action:  change.ActionModify,
			Content: old[:len(old)/2],
		}})
		assert.True(t, res.Valid)
	})

	t.Run("SmallFilesExempt", func(t *testing.T) {
		writeOld(t, root, "src/small.ts", "const tiny = true // under the floor")
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/small.ts",
			Action:  change.ActionModify,
			Content: "const t = 1 // ok",
		}})
		assert.True(t, res.Valid)
	})

	t.Run("CreateNotCompared", func(t *testing.T) {
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/new.ts",
			Action:  change.ActionCreate,
			Content: "const created = true",
		}})
		assert.True(t, res.Valid)
	})
}

func TestDeleteSkipsContentRules(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.ValidateBatch([]change.Request{{
		Path:   "src/old.ts",
		Action: change.ActionDelete,
	}})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestDangerousPatterns(t *testing.T) {
	v, _ := newTestValidator(t)

	cases := []struct {
		name    string
		content string
	}{
		{"RootRecursiveDelete", "exec('rm -rf / ')\n// cleanup helper"},
		{"DropTable", "db.query('DROP TABLE users')\n// migration"},
		{"TruncateTable", "db.query('TRUNCATE TABLE sessions')\n// reset"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.ValidateBatch([]change.Request{{
				Path:    "src/danger.ts",
				Action:  change.ActionCreate,
				Content: tc.content,
			}})
			assert.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], "destructive pattern")
		})
	}

	t.Run("ScopedDeleteAllowed", func(t *testing.T) {
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/cleanup.ts",
			Action:  change.ActionCreate,
			Content: "exec('rm -rf ./build')\n// clears the local build dir",
		}})
		assert.True(t, res.Valid)
	})
}

func TestSelfImport(t *testing.T) {
	v, _ := newTestValidator(t)

	t.Run("OwnPathRejected", func(t *testing.T) {
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/features/widget.ts",
			Action:  change.ActionCreate,
			Content: "import { Widget } from './widget'\nexport const W = Widget",
		}})
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "load-time cycle")
	})

	t.Run("SiblingImportFine", func(t *testing.T) {
		res := v.ValidateBatch([]change.Request{{
			Path:    "src/features/widget.ts",
			Action:  change.ActionCreate,
			Content: "import { helper } from './helper'\nexport const W = helper()",
		}})
		assert.True(t, res.Valid)
	})
}

func TestExportPreservationWarns(t *testing.T) {
	v, root := newTestValidator(t)
	writeOld(t, root, "src/api.ts", strings.Join([]string{
		"export function alpha() { return 1 }",
		"export function beta() { return 2 }",
		"export function gamma() { return 3 }",
		"export const delta = 4",
	}, "\n"))

	res := v.ValidateBatch([]change.Request{{
		Path:    "src/api.ts",
		Action:  change.ActionModify,
		Content: "export function alpha() { return 1 }\n// the rest moved elsewhere",
	}})
	// Dropped exports warn but do not block.
	assert.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "exported symbols")
}

func TestBraceBalanceWarns(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.ValidateBatch([]change.Request{{
		Path:    "src/broken.ts",
		Action:  change.ActionCreate,
		Content: "function a() { if (x) { while (y) { do { nested()",
	}})
	assert.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "brace imbalance")
}

func TestUnknownActionRejected(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.ValidateBatch([]change.Request{{
		Path:    "src/x.ts",
		Action:  change.Action("rename"),
		Content: "whatever content here",
	}})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "unknown action")
}
