package trace

import (
	"errors"
	"log/slog"
)

// Report is the outcome of replaying a whole trace.
type Report struct {
	Keys    []FoundKey
	Image   *Image
	Results []Result
	// Errors holds one entry per session that could not be followed. The
	// replay resumes at the next SELECT or HALT.
	Errors []error
}

// Err joins the session errors.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Replay feeds every frame through a fresh decoder.
func Replay(frames []Frame, opts ...Option) Report {
	d := NewDecoder(opts...)
	rep := Report{Results: make([]Result, 0, len(frames))}
	for i, f := range frames {
		res, err := d.Feed(f)
		if err != nil {
			slog.Warn("Trace decoding stopped until next select", "frame", i, "error", err)
			rep.Errors = append(rep.Errors, err)
		}
		rep.Results = append(rep.Results, res)
	}
	rep.Keys = d.Keys()
	rep.Image = d.Image()
	return rep
}
