// Package batch runs the image pipeline over many inputs with a bounded
// worker pool and records a tagged outcome per input.
package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/rendition/internal/archive"
	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/andresmejia3/rendition/internal/utils"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

// Outcome is the result of one input image: renditions when the image could
// be processed, Err when it could not.
type Outcome struct {
	Index int
	ID    string
	Name  string
	// Base is the output basename, unique within the run.
	Base       string
	Width      int
	Height     int
	Faces      []types.BoundingBox
	Renditions profile.Results
	// Preview is the highlighted original as PNG, when requested.
	Preview []byte
	Err     error
	Elapsed time.Duration
}

// OK reports whether the image and every requested profile succeeded.
// Budget warnings do not count as failures.
func (o *Outcome) OK() bool {
	return o.Err == nil && len(o.Renditions.Failed()) == 0
}

// Error returns the image-level error, or the first failed profile's error.
func (o *Outcome) Error() error {
	if o.Err != nil {
		return o.Err
	}
	if failed := o.Renditions.Failed(); len(failed) > 0 {
		return fmt.Errorf("%s: %w", failed[0].Name(), failed[0].Err)
	}
	return nil
}

// Run is the state of one batch: the profiles it renders, an outcome per
// input keyed by input ID, and its status. It is owned by the caller.
type Run struct {
	ID        string
	Profiles  []profile.Profile
	Status    Status
	StartedAt time.Time
	Elapsed   time.Duration

	mu      sync.Mutex
	order   []string
	results map[string]*Outcome
}

func newRun(profiles []profile.Profile, inputs []Input) *Run {
	r := &Run{
		ID:       uuid.NewString(),
		Profiles: profiles,
		Status:   StatusPending,
		order:    make([]string, len(inputs)),
		results:  make(map[string]*Outcome, len(inputs)),
	}
	sources := make([]string, len(inputs))
	for i, in := range inputs {
		sources[i] = in.Name
	}
	bases := utils.UniqueBaseNames(sources)
	for i, in := range inputs {
		r.order[i] = in.ID
		r.results[in.ID] = &Outcome{Index: i, ID: in.ID, Name: in.Name, Base: bases[i]}
	}
	return r
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.Status = s
	r.mu.Unlock()
}

// record merges a finished outcome into the run.
func (r *Run) record(o Outcome) *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.results[o.ID]
	o.Base = cur.Base
	*cur = o
	return cur
}

// Outcome returns the outcome for an input ID.
func (r *Run) Outcome(id string) (*Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.results[id]
	return o, ok
}

// Outcomes returns every outcome in input order.
func (r *Run) Outcomes() []*Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Outcome, len(r.order))
	for i, id := range r.order {
		out[i] = r.results[id]
	}
	return out
}

// Total is the number of inputs in the run.
func (r *Run) Total() int { return len(r.order) }

// Succeeded counts the inputs whose every profile succeeded.
func (r *Run) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes() {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that did not fully succeed, in input order.
func (r *Run) Failed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Outcomes() {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Summary is the one-line result of the run.
func (r *Run) Summary() string {
	return fmt.Sprintf("Processed %d of %d files in %.2f seconds.", r.Succeeded(), r.Total(), r.Elapsed.Seconds())
}

// ArchiveEntries collects the renditions of the named profiles from every
// outcome, in input order, named {basename}_{profile}.webp.
func (r *Run) ArchiveEntries(profiles ...string) []archive.Entry {
	var entries []archive.Entry
	for _, o := range r.Outcomes() {
		if o.Err != nil {
			continue
		}
		for _, name := range profiles {
			rend, ok := o.Renditions.Get(name)
			if !ok || !rend.OK() {
				continue
			}
			entries = append(entries, archive.Entry{
				Name: utils.ArtifactName(o.Base, name),
				Data: rend.Data,
			})
		}
	}
	return entries
}
