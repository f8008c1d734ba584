// Package proctree resolves the descendant processes of a PID at a point in
// time. Agent servers routinely fork helper processes; the snapshot taken
// here is what allows a kill to reach the whole tree even after the parent
// is gone and the parent-child relation can no longer be queried.
package proctree

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Descendants returns a snapshot of all transitive child PIDs of pid.
// It never fails: a non-existent or already-exited pid yields an empty
// slice, which is the common case when probing a process that is gone.
func Descendants(pid int) []int {
	if pid <= 0 {
		return nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	seen := map[int32]struct{}{int32(pid): {}}
	var out []int
	collect(p, seen, &out)
	return out
}

func collect(p *gopsproc.Process, seen map[int32]struct{}, out *[]int) {
	children, err := p.Children()
	if err != nil {
		// gopsutil returns an error when the process has no children or
		// has exited; either way the snapshot simply ends here.
		return
	}
	for _, c := range children {
		if _, ok := seen[c.Pid]; ok {
			continue
		}
		seen[c.Pid] = struct{}{}
		*out = append(*out, int(c.Pid))
		collect(c, seen, out)
	}
}
