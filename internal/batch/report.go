package batch

import (
	"io"
	"time"

	"github.com/andresmejia3/rendition/internal/encoder"
	"github.com/andresmejia3/rendition/internal/types"
	"github.com/andresmejia3/rendition/internal/utils"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the serializable summary of a Run.
type Report struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Profiles  []string      `json:"profiles"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Images    []ImageReport `json:"images"`
}

type ImageReport struct {
	Name       string              `json:"name"`
	Output     string              `json:"output"`
	Width      int                 `json:"width,omitempty"`
	Height     int                 `json:"height,omitempty"`
	Faces      []types.BoundingBox `json:"faces,omitempty"`
	Error      string              `json:"error,omitempty"`
	Renditions []RenditionReport   `json:"renditions,omitempty"`
}

type RenditionReport struct {
	Profile string `json:"profile"`
	File    string `json:"file,omitempty"`
	Format  string `json:"format,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report snapshots the run.
func (r *Run) Report() Report {
	rep := Report{
		ID:        r.ID,
		StartedAt: r.StartedAt,
		ElapsedMS: r.Elapsed.Milliseconds(),
		Total:     r.Total(),
		Succeeded: r.Succeeded(),
	}
	r.mu.Lock()
	rep.Status = r.Status
	r.mu.Unlock()
	for _, p := range r.Profiles {
		rep.Profiles = append(rep.Profiles, p.Name)
	}

	for _, o := range r.Outcomes() {
		img := ImageReport{
			Name:   o.Name,
			Output: o.Base,
			Width:  o.Width,
			Height: o.Height,
			Faces:  o.Faces,
		}
		if o.Err != nil {
			img.Error = o.Err.Error()
		}
		for _, rend := range o.Renditions {
			rr := RenditionReport{Profile: rend.Name(), Quality: rend.Quality, Bytes: len(rend.Data)}
			if rend.OK() {
				rr.File = utils.ArtifactName(o.Base, rend.Name())
				rr.Format = encoder.Format
			}
			if rend.Warning != nil {
				rr.Warning = rend.Warning.Error()
			}
			if rend.Err != nil {
				rr.Error = rend.Err.Error()
			}
			img.Renditions = append(img.Renditions, rr)
		}
		rep.Images = append(rep.Images, img)
	}
	return rep
}

// WriteReport encodes the run report as indented JSON.
func (r *Run) WriteReport(w io.Writer) error {
	data, err := json.MarshalIndent(r.Report(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
