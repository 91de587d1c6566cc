// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/kild/internal/errs"
)

func testSession(branch string) *Session {
	return &Session{
		Branch:       branch,
		ProjectPath:  "/home/dev/proj",
		WorktreePath: "/home/dev/proj-" + branch,
		Agent:        "claude",
		PortRange:    PortRange{Base: 3000, Count: 10},
		PTYMode:      PTYModeDaemon,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	want := testSession("feature-x")
	want.Note = "spike on the parser"
	want.Process = &ProcessInfo{PID: 4242, Name: "claude", StartTime: time.Now().UTC().Truncate(time.Second)}

	require.NoError(t, store.Save(want))

	got, err := store.Load(want.ProjectPath, "feature-x")
	require.NoError(t, err)
	assert.Equal(t, want.Branch, got.Branch)
	assert.Equal(t, want.Agent, got.Agent)
	assert.Equal(t, want.Note, got.Note)
	require.NotNil(t, got.Process)
	assert.Equal(t, 4242, got.Process.PID)
	assert.Equal(t, want.PortRange, got.PortRange)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("/home/dev/proj", "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := testSession("feature-x")

	require.NoError(t, store.Save(sess))
	require.NoError(t, store.Delete(sess.ProjectPath, "feature-x"))
	// Deleting an absent record is a no-op.
	require.NoError(t, store.Delete(sess.ProjectPath, "feature-x"))
	assert.False(t, store.Exists(sess.ProjectPath, "feature-x"))
}

func TestStore_List(t *testing.T) {
	store := NewStore(t.TempDir())

	for _, branch := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, store.Save(testSession(branch)))
	}
	// A session in a different project must not appear.
	other := testSession("other")
	other.ProjectPath = "/home/dev/unrelated"
	require.NoError(t, store.Save(other))

	sessions, err := store.List("/home/dev/proj")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	// Sorted by branch
	assert.Equal(t, "alpha", sessions[0].Branch)
	assert.Equal(t, "zeta", sessions[2].Branch)
}

func TestStore_ListEmptyProject(t *testing.T) {
	store := NewStore(t.TempDir())
	sessions, err := store.List("/home/dev/never-seen")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

// A writer killed after writing the temp file but before the rename must
// leave the original record untouched and the temp file invisible to readers.
func TestStore_PartialWriteLeavesOldRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := testSession("feature-x")
	sess.Note = "original"

	require.NoError(t, store.Save(sess))

	// Simulate a writer that died before the rename.
	stale := store.recordPath(sess.ProjectPath, "feature-x") + ".tmp"
	require.NoError(t, os.WriteFile(stale, []byte(`{"branch":"feature-x","note":"trunc`), 0644))

	got, err := store.Load(sess.ProjectPath, "feature-x")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Note)

	sessions, err := store.List(sess.ProjectPath)
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "temp file must be invisible to List")
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := testSession("feature-x")

	require.NoError(t, store.Save(sess))

	path := store.recordPath(sess.ProjectPath, "feature-x")
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should not exist after successful save")
}

func TestStore_ListSkipsCorruptedRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	sess := testSession("good")
	require.NoError(t, store.Save(sess))

	bad := filepath.Join(store.ProjectDir(sess.ProjectPath), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0644))

	sessions, err := store.List(sess.ProjectPath)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "good", sessions[0].Branch)
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"feature-x", "feature-x"},
		{"feature/login", "feature_login"},
		{"fix me now", "fix_me_now"},
		{"rel.1.2", "rel_1_2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeID(tt.in), "SanitizeID(%q)", tt.in)
	}
}

func TestProjectKey_DisambiguatesSameBaseName(t *testing.T) {
	a := projectKey("/home/alice/proj")
	b := projectKey("/home/bob/proj")
	assert.NotEqual(t, a, b, "projects with same base name must not collide")
}
