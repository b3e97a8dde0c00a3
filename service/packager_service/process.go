package packager_service

import (
	"os"

	ps "github.com/mitchellh/go-ps"
)

// descendants returns the pids of every process below root, children first
func descendants(root int) ([]int, error) {
	processList, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	children := make(map[int][]int)
	for _, p := range processList {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}

	var out []int
	var walk func(pid int)
	walk = func(pid int) {
		for _, child := range children[pid] {
			if child == pid {
				continue
			}
			walk(child)
			out = append(out, child)
		}
	}
	walk(root)
	return out, nil
}

// killProcessTree kills every descendant of root, deepest first, then root
func killProcessTree(root int) error {
	pids, err := descendants(root)
	if err != nil {
		pids = nil
	}

	thisProcessID := os.Getpid()
	for _, pid := range append(pids, root) {
		if pid == thisProcessID {
			continue
		}
		p, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		_ = p.Kill()
	}
	return nil
}
