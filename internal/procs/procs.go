// Package procs enumerates candidate capture targets.
package procs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Info describes one running process.
type Info struct {
	PID  uint32 `json:"pid"`
	Name string `json:"name"`
	Exe  string `json:"exe,omitempty"`
}

// List returns running processes, sorted by name then PID. filter, when
// non-empty, keeps only processes whose name contains it case-insensitively.
func List(ctx context.Context, filter string) ([]Info, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	filter = strings.ToLower(filter)

	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue // exited or inaccessible
		}
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		info := Info{PID: uint32(p.Pid), Name: name}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			info.Exe = exe
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].PID < out[j].PID
	})
	return out, nil
}

// FindFirst resolves a process name to the lowest matching PID.
func FindFirst(ctx context.Context, name string) (Info, error) {
	matches, err := List(ctx, name)
	if err != nil {
		return Info{}, err
	}
	if len(matches) == 0 {
		return Info{}, fmt.Errorf("no process matching %q", name)
	}
	return matches[0], nil
}

// Exists reports whether pid is currently running.
func Exists(ctx context.Context, pid uint32) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}
