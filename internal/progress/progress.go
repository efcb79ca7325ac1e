// Package progress derives the position of a session on its template timeline.
//
// Compute is a pure function: it reads no clock and keeps no state, so the
// supervisor can call it as often as it likes and tests can pin "now".
package progress

import (
	"math"
	"slices"
	"time"

	"github.com/loykin/invigil/internal/template"
)

// Progress is the derived view of a session at a given instant. It is never persisted.
type Progress struct {
	CurrentNode      *template.ProcessNode  `json:"currentNode"`
	NextNode         *template.ProcessNode  `json:"nextNode"`
	RemainingSeconds int64                  `json:"remainingTime"`
	PercentComplete  float64                `json:"progress"`
	CompletedNodes   []template.ProcessNode `json:"completedNodes"`
	UpcomingNodes    []template.ProcessNode `json:"upcomingNodes"`
	ElapsedMinutes   float64                `json:"elapsedMinutes"`
}

// Arrived reports whether the next node's time has come.
func (p Progress) Arrived() bool { return p.NextNode != nil && p.RemainingSeconds <= 0 }

// Sorted returns a copy of nodes stably sorted by offset.
func Sorted(nodes []template.ProcessNode) []template.ProcessNode {
	out := append([]template.ProcessNode(nil), nodes...)
	slices.SortStableFunc(out, func(a, b template.ProcessNode) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Compute locates the session on the timeline.
//
// The next node is the first node, in offset order, that is not completed,
// whether or not its time has passed. The current node is the next node once
// its time has arrived, otherwise the last earlier node whose time has passed.
// RemainingSeconds is signed: zero or negative means the next node is due.
// PercentComplete counts confirmed completions only.
func Compute(nodes []template.ProcessNode, completed []string, start, now time.Time) Progress {
	done := make(map[string]struct{}, len(completed))
	for _, name := range completed {
		done[name] = struct{}{}
	}
	elapsed := now.Sub(start).Minutes()

	sorted := Sorted(nodes)
	var p Progress
	p.ElapsedMinutes = elapsed

	for i := range sorted {
		if _, ok := done[sorted[i].Name]; ok {
			continue
		}
		next := sorted[i]
		p.NextNode = &next
		if next.Offset <= elapsed {
			cur := next
			p.CurrentNode = &cur
		} else {
			for j := i - 1; j >= 0; j-- {
				if sorted[j].Offset <= elapsed {
					cur := sorted[j]
					p.CurrentNode = &cur
					break
				}
			}
		}
		p.RemainingSeconds = int64(math.Ceil(next.At(start).Sub(now).Seconds()))
		break
	}

	p.CompletedNodes = []template.ProcessNode{}
	p.UpcomingNodes = []template.ProcessNode{}
	for _, n := range nodes {
		if _, ok := done[n.Name]; ok {
			p.CompletedNodes = append(p.CompletedNodes, n)
		} else if n.Offset >= elapsed {
			p.UpcomingNodes = append(p.UpcomingNodes, n)
		}
	}
	if len(nodes) > 0 {
		p.PercentComplete = float64(len(p.CompletedNodes)) / float64(len(nodes)) * 100
	}
	return p
}
