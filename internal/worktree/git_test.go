// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorktreeListPorcelain(t *testing.T) {
	output := `worktree /home/dev/proj
HEAD abc1234567890abcdef1234567890abcdef12345
branch refs/heads/main

worktree /home/dev/proj-feature-x
HEAD def4567890abcdef1234567890abcdef12345678
branch refs/heads/feature-x

worktree /home/dev/detached wt
HEAD 1234567890abcdef1234567890abcdef12345678
detached
`

	worktrees := ParseWorktreeListPorcelain(output)
	require.Len(t, worktrees, 3)

	assert.Equal(t, "/home/dev/proj", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "feature-x", worktrees[1].Branch)
	// Paths with spaces must parse intact.
	assert.Equal(t, "/home/dev/detached wt", worktrees[2].Path)
	assert.True(t, worktrees[2].Detached)
}

func TestParseWorktreeListPorcelain_Bare(t *testing.T) {
	output := `worktree /home/dev/proj.git
bare
`
	worktrees := ParseWorktreeListPorcelain(output)
	require.Len(t, worktrees, 1)
	assert.True(t, worktrees[0].IsBare)
}

func TestParseGitStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, s GitStatus)
	}{
		{
			name:   "clean",
			output: "",
			check: func(t *testing.T, s GitStatus) {
				assert.True(t, s.Clean)
				assert.False(t, s.HasChanges())
			},
		},
		{
			name:   "modified",
			output: " M main.go\n",
			check: func(t *testing.T, s GitStatus) {
				assert.Equal(t, []string{"main.go"}, s.Modified)
			},
		},
		{
			name:   "untracked",
			output: "?? notes.txt\n",
			check: func(t *testing.T, s GitStatus) {
				assert.Equal(t, []string{"notes.txt"}, s.Untracked)
			},
		},
		{
			name:   "added then modified",
			output: "AM new.go\n",
			check: func(t *testing.T, s GitStatus) {
				assert.Len(t, s.Added, 1, "AM should classify as added")
			},
		},
		{
			name:   "mixed",
			output: "A  a.go\n M b.go\n D c.go\n?? d.go\nR  e.go -> f.go\n",
			check: func(t *testing.T, s GitStatus) {
				assert.False(t, s.Clean)
				assert.Len(t, s.Added, 1)
				assert.Len(t, s.Modified, 1)
				assert.Len(t, s.Deleted, 1)
				assert.Len(t, s.Untracked, 1)
				assert.Len(t, s.Renamed, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ParseGitStatus(tt.output))
		})
	}
}

func TestPRInfo_Merged(t *testing.T) {
	assert.False(t, (&PRInfo{State: "OPEN"}).Merged())
	assert.True(t, (&PRInfo{State: "MERGED"}).Merged())
	var nilPR *PRInfo
	assert.False(t, nilPR.Merged())
}
