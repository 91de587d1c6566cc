// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// GHPRChecker looks up pull requests with the GitHub CLI. Requires `gh` on
// PATH and an authenticated user; callers degrade to no PR warnings when it
// is unavailable.
type GHPRChecker struct{}

// NewGHPRChecker creates a checker backed by the gh CLI.
func NewGHPRChecker() *GHPRChecker {
	return &GHPRChecker{}
}

// Find returns the pull request for a branch, or nil if none exists.
func (c *GHPRChecker) Find(ctx context.Context, repoDir, branch string) (*PRInfo, error) {
	cmd := exec.CommandContext(ctx, "gh", "pr", "view", branch, "--json", "number,state,mergedAt")
	cmd.Dir = repoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if strings.Contains(msg, "no pull requests found") {
			return nil, nil
		}
		return nil, fmt.Errorf("gh pr view %s: %s: %w", branch, strings.TrimSpace(msg), err)
	}

	var raw struct {
		Number   int    `json:"number"`
		State    string `json:"state"`
		MergedAt string `json:"mergedAt"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parse gh pr view output: %w", err)
	}

	pr := &PRInfo{Number: raw.Number, State: raw.State}
	if raw.MergedAt != "" {
		if t, err := time.Parse(time.RFC3339, raw.MergedAt); err == nil {
			pr.MergedAt = t
		}
	}
	return pr, nil
}
