// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wingedpig/kild/internal/orchestrator"
	"github.com/wingedpig/kild/internal/session"
)

func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	agent := fs.String("agent", "", "Agent backend")
	base := fs.String("base", "", "Base branch to fork from")
	mode := fs.String("mode", "", "PTY mode: daemon or external")
	noFetch := fs.Bool("no-fetch", false, "Skip git fetch")
	note := fs.String("note", "", "Session note")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: kild create <branch>")
	}

	sess, err := orch.Create(context.Background(), orchestrator.CreateOptions{
		Branch:     fs.Arg(0),
		Agent:      *agent,
		BaseBranch: *base,
		NoFetch:    *noFetch,
		PTYMode:    session.PTYMode(*mode),
		Note:       *note,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sess)
	}
	fmt.Printf("Created session %s\n", sess.Branch)
	fmt.Printf("  Worktree: %s\n", sess.WorktreePath)
	fmt.Printf("  Ports:    %s\n", sess.PortRange)
	fmt.Printf("  Agent:    %s (%s)\n", sess.Agent, sess.PTYMode)
	return nil
}

func cmdList(args []string) error {
	views, err := orch.List(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(views)
	}
	if len(views) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tSTATUS\tAGENT\tPORTS\tPID\tNOTE")
	for _, v := range views {
		pid := "-"
		if v.Process != nil {
			pid = fmt.Sprintf("%d", v.Process.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Branch, v.Status, v.Agent, v.PortRange, pid, v.Note)
	}
	return w.Flush()
}

func cmdStatus(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kild status <branch>")
	}
	view, err := orch.Status(context.Background(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(view)
	}
	fmt.Printf("Session:  %s\n", view.Branch)
	fmt.Printf("Status:   %s\n", view.Status)
	fmt.Printf("Agent:    %s (%s)\n", view.Agent, view.PTYMode)
	fmt.Printf("Worktree: %s\n", view.WorktreePath)
	fmt.Printf("Ports:    %s\n", view.PortRange)
	if view.Process != nil {
		fmt.Printf("PID:      %d (%s, started %s)\n",
			view.Process.PID, view.Process.Name,
			view.Process.StartTime.Local().Format(time.RFC3339))
	}
	if view.Note != "" {
		fmt.Printf("Note:     %s\n", view.Note)
	}
	fmt.Printf("Created:  %s\n", view.CreatedAt.Local().Format(time.RFC3339))
	return nil
}

func cmdOpen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kild open <branch>")
	}
	sess, err := orch.Open(context.Background(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sess)
	}
	fmt.Printf("Session %s running (pid %d)\n", sess.Branch, sess.Process.PID)
	return nil
}

func cmdStop(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kild stop <branch>")
	}
	if err := orch.Stop(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", args[0])
	return nil
}

func cmdRestart(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kild restart <branch>")
	}
	sess, err := orch.Restart(context.Background(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sess)
	}
	fmt.Printf("Restarted %s (pid %d)\n", sess.Branch, sess.Process.PID)
	return nil
}

func cmdDestroy(args []string) error {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	force := fs.Bool("force", false, "Override safety checks")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: kild destroy [-force] <branch>")
	}

	warnings, err := orch.Destroy(context.Background(), fs.Arg(0), *force)
	printWarnings(warnings)
	if err != nil {
		return err
	}
	fmt.Printf("Destroyed %s\n", fs.Arg(0))
	return nil
}

func cmdComplete(args []string) error {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	force := fs.Bool("force", false, "Override safety checks")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: kild complete [-force] <branch>")
	}

	warnings, err := orch.Complete(context.Background(), fs.Arg(0), *force)
	printWarnings(warnings)
	if err != nil {
		return err
	}
	fmt.Printf("Completed %s\n", fs.Arg(0))
	return nil
}

func cmdNote(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kild note <branch> [text]")
	}
	// No text clears the note.
	note := strings.Join(args[1:], " ")
	return orch.Note(context.Background(), args[0], note)
}

func cmdHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	watch := fs.Duration("watch", 0, "Repeat the snapshot on this interval")
	fs.Parse(args)

	for {
		if err := printHealth(); err != nil {
			return err
		}
		if *watch <= 0 {
			return nil
		}
		time.Sleep(*watch)
		fmt.Println()
	}
}

func printHealth() error {
	reports, err := orch.Health(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(reports)
	}
	if len(reports) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tSTATUS\tPID\tCPU\tRSS")
	for _, r := range reports {
		pid, cpu, rss := "-", "-", "-"
		if r.PID > 0 {
			pid = fmt.Sprintf("%d", r.PID)
			cpu = r.CPUTime.Round(time.Second).String()
			rss = fmt.Sprintf("%d MB", r.RSS/(1024*1024))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Branch, r.Status, pid, cpu, rss)
	}
	return w.Flush()
}

func cmdCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	apply := fs.Bool("apply", false, "Repair the detected anomalies")
	fs.Parse(args)

	anomalies, err := orch.Cleanup(context.Background(), *apply)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(anomalies)
	}
	if len(anomalies) == 0 {
		fmt.Println("No anomalies found")
		return nil
	}

	for _, a := range anomalies {
		target := a.Branch
		if target == "" {
			target = a.Path
		}
		fmt.Printf("%-16s %s: %s\n", a.Kind, target, a.Detail)
	}
	if !*apply {
		fmt.Println("\nRun 'kild cleanup -apply' to repair")
	}
	return nil
}
