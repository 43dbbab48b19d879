package resolve

import (
	"github.com/taskmirror/taskmirror/internal/identity"
	"github.com/taskmirror/taskmirror/internal/task"
)

// Report is the dry-run preview of how the three signature sets overlap.
// No merge is performed.
type Report struct {
	LocalOnly   int `json:"local_only"`
	ReplicaOnly int `json:"replica_only"`
	CloudOnly   int `json:"cloud_only"`
	InTwo       int `json:"in_two"`
	InAll       int `json:"in_all"`
	Total       int `json:"total"`
}

// SyncReport computes set-algebra statistics over the three collections'
// signature sets: unique-to-one-source, present-in-two, present-in-all-three,
// and total distinct signatures.
func SyncReport(local, remote, cloud []task.Task) Report {
	sigSet := func(records []task.Task) map[identity.Sig]bool {
		set := make(map[identity.Sig]bool, len(records))
		for _, t := range records {
			set[identity.TaskSignature(t)] = true
		}
		return set
	}

	l, r, c := sigSet(local), sigSet(remote), sigSet(cloud)

	all := make(map[identity.Sig]int)
	for sig := range l {
		all[sig]++
	}
	for sig := range r {
		all[sig]++
	}
	for sig := range c {
		all[sig]++
	}

	var report Report
	report.Total = len(all)
	for sig, n := range all {
		switch n {
		case 1:
			switch {
			case l[sig]:
				report.LocalOnly++
			case r[sig]:
				report.ReplicaOnly++
			default:
				report.CloudOnly++
			}
		case 2:
			report.InTwo++
		case 3:
			report.InAll++
		}
	}
	return report
}
