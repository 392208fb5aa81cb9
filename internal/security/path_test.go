package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathValidator(t *testing.T) {
	_, err := NewPathValidator("")
	assert.Error(t, err)

	v, err := NewPathValidator("/not/created/yet")
	require.NoError(t, err)
	assert.Equal(t, "/not/created/yet", v.Root())
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"root itself", root, false},
		{"file below root", filepath.Join(root, "outputs", "ptd.xlsx"), false},
		{"dot segments that stay inside", filepath.Join(root, "a", "..", "b.json"), false},
		{"empty", "", true},
		{"parent directory", filepath.Dir(root), true},
		{"escape with dot segments", filepath.Join(root, "..", "other"), true},
		{"sibling with shared prefix", root + "-evil", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	assert.Error(t, v.ValidatePath(link))
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	got, err := v.Resolve("uploads/protocol.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "uploads", "protocol.json"), got)

	got, err = v.Resolve("out\x00puts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "outputs"), got)

	_, err = v.Resolve("../escape.json")
	assert.Error(t, err)
	_, err = v.Resolve("")
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)
	outputs := filepath.Join(root, "outputs")

	got, err := v.Join(outputs, "ptd_output.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputs, "ptd_output.xlsx"), got)

	for _, name := range []string{"", ".", "..", "../secret", "a/b.xlsx", `a\b.xlsx`, "a\x00b"} {
		_, err := v.Join(outputs, name)
		assert.Error(t, err, name)
	}
}

func TestEnsureDir(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	require.NoError(t, err)

	dir, err := v.EnsureDir("runs/abc")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), []byte("x"), 0o600))
	_, err = v.EnsureDir("file")
	assert.Error(t, err)

	_, err = v.EnsureDir("../elsewhere")
	assert.Error(t, err)
}
