// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// kild manages parallel agent work sessions: one git worktree, one reserved
// port range, and one agent process per branch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/wingedpig/kild/internal/config"
	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/orchestrator"
	"github.com/wingedpig/kild/pkg/client"
)

var (
	version    = "0.9"
	jsonOutput = false

	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	apiClient *client.Client
)

func main() {
	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(errs.ExitInternal)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	switch cmd {
	case "version", "-v", "--version":
		fmt.Printf("kild %s\n", version)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	if err := loadEnvironment(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}

	var err error
	switch cmd {
	case "create":
		err = cmdCreate(args)
	case "list", "ls":
		err = cmdList(args)
	case "status":
		err = cmdStatus(args)
	case "open":
		err = cmdOpen(args)
	case "stop":
		err = cmdStop(args)
	case "restart":
		err = cmdRestart(args)
	case "destroy":
		err = cmdDestroy(args)
	case "complete":
		err = cmdComplete(args)
	case "note":
		err = cmdNote(args)
	case "health":
		err = cmdHealth(args)
	case "cleanup":
		err = cmdCleanup(args)
	case "attach":
		err = cmdAttach(args)
	case "daemon":
		err = cmdDaemon(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(errs.ExitInternal)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}

// loadEnvironment loads config and builds the orchestrator. The daemon
// subcommands only need the client, so they skip the git-repo requirement.
func loadEnvironment(cmd string) error {
	loader := config.NewLoader()
	path, err := loader.FindConfig()
	if err != nil {
		return err
	}
	cfg, err = loader.LoadWithDefaults(context.Background(), path)
	if err != nil {
		return err
	}
	apiClient = client.New(cfg.Daemon.Socket)

	if cmd == "daemon" {
		return nil
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}
	orch = orchestrator.New(cfg, root)
	return nil
}

// projectRoot resolves the enclosing git repository. Inside a kild worktree
// this still points at the worktree, which is fine: the session store is
// keyed by project path, and worktrees of a repo share its main path via
// git-common-dir.
func projectRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--path-format=absolute", "--git-common-dir").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	gitDir := strings.TrimSpace(string(out))
	if !strings.HasSuffix(gitDir, "/.git") {
		return "", fmt.Errorf("unsupported repository layout: %s", gitDir)
	}
	return strings.TrimSuffix(gitDir, "/.git"), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
}

func printUsage() {
	fmt.Println(`kild - parallel agent work sessions

Usage:
  kild [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Commands:
  create <branch>          Create a session: worktree, port range, agent
      -agent <name>          Agent backend (default from config)
      -base <branch>         Base branch to fork from (default: repo default)
      -mode <daemon|external> Where the agent's terminal lives
      -no-fetch              Skip git fetch before creating the worktree
      -note <text>           Attach a note to the session
  list                     List sessions with status
  status <branch>          Show one session in detail
  open <branch>            Launch the agent for a stopped session
  stop <branch>            Stop the agent, keep the worktree
  restart <branch>         Stop and relaunch the agent
  destroy <branch>         Remove session, worktree, and local branch
      -force                 Override the uncommitted-changes safety check
  complete <branch>        Destroy plus remote branch removal if the PR merged
      -force                 Override the uncommitted-changes safety check
  note <branch> [text]     Set or clear the session note
  health                   Probe agent liveness and resource usage
      -watch <interval>      Repeat the snapshot, e.g. -watch 5s
  cleanup [-apply]         Detect (and with -apply repair) inconsistencies
  attach <branch>          Attach this terminal to a daemon-hosted session
  daemon start|stop|status Manage the PTY daemon
  version                  Show version`)
}
