package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/debugbridge/internal/lock"
	"github.com/mattjoyce/debugbridge/internal/state"
	"github.com/mattjoyce/debugbridge/internal/storage"
)

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type systemStatus struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config,omitempty"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	st := systemStatus{Healthy: true}
	add := func(name string, ok bool, detail string) {
		st.Checks = append(st.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			st.Healthy = false
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		add("config", false, err.Error())
		return printSystemStatus(st, *jsonOut)
	}
	st.Config = cfg.SourcePath
	add("config", true, "loaded and valid")
	add("workspace", true, cfg.Workspace.Dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if db, err := storage.OpenSQLite(ctx, cfg.State.Path); err != nil {
		add("database", false, err.Error())
	} else {
		runs, lerr := state.NewStore(db).List(ctx, 1)
		switch {
		case lerr != nil:
			add("database", false, lerr.Error())
		case len(runs) == 0:
			add("database", true, cfg.State.Path+" (no runs)")
		default:
			add("database", true, fmt.Sprintf("%s (last run %s)", cfg.State.Path, runs[0].StartedAt.Local().Format(time.RFC3339)))
		}
		_ = db.Close()
	}

	// The lock is informational: a running bridge is healthy.
	lockPath := lock.PathFor(cfg.State.Path)
	l, err := lock.Acquire(lockPath)
	switch {
	case errors.Is(err, lock.ErrHeld):
		add("pid_lock", true, "held: "+err.Error())
	case err != nil:
		add("pid_lock", false, err.Error())
	default:
		_ = l.Release()
		add("pid_lock", true, "free (bridge not running)")
	}

	return printSystemStatus(st, *jsonOut)
}

func printSystemStatus(st systemStatus, jsonOut bool) int {
	if jsonOut {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, c := range st.Checks {
			mark := "OK"
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, mark, c.Detail)
		}
		_ = w.Flush()
	}
	if !st.Healthy {
		return 1
	}
	return 0
}

func runRunsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", state.DefaultListLimit, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database error: %v\n", err)
		return 1
	}
	defer db.Close()

	runs, err := state.NewStore(db).List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tFILE\tPID\tSTATUS\tEXIT\tSTARTED")
	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Command, r.File, r.Pid, r.Status, exit, r.StartedAt.Local().Format(time.RFC3339))
	}
	_ = w.Flush()
	return 0
}
