// Package waveform models waveform segments and the per-event archive
// they are exchanged through between the picker client and the repicker.
package waveform

import (
	"context"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// Record is one contiguous run of samples from a single stream.
type Record struct {
	Stream     model.StreamID `json:"stream"`
	Start      time.Time      `json:"start"`
	SampleRate float64        `json:"sampleRate"`
	Samples    []float64      `json:"samples"`
}

// End is the time just past the last sample.
func (r Record) End() time.Time {
	if r.SampleRate <= 0 {
		return r.Start
	}
	d := float64(len(r.Samples)) / r.SampleRate
	return r.Start.Add(time.Duration(d * float64(time.Second)))
}

// Duration is the covered time span of a record sequence, first start
// to last end. The records must be sorted by time.
func Duration(recs []Record) time.Duration {
	if len(recs) == 0 {
		return 0
	}
	return recs[len(recs)-1].End().Sub(recs[0].Start)
}

// Gappy reports whether consecutive records of one stream leave gaps
// larger than tolerance sampling intervals. The records must be sorted
// by time and all belong to the same stream.
func Gappy(recs []Record, tolerance float64) bool {
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		if cur.SampleRate <= 0 {
			continue
		}
		dt := cur.Start.Sub(prev.End()).Seconds()
		if dt < 0 {
			dt = -dt
		}
		if dt*cur.SampleRate > tolerance {
			return true
		}
	}
	return false
}

// Request asks for one stream's data over a time window.
type Request struct {
	Stream model.StreamID
	Start  time.Time
	End    time.Time
}

// Source acquires waveform data from the archive or acquisition
// backend. Fetch is bounded by the context deadline; a stream that
// yields no data is simply absent from the returned map.
type Source interface {
	Fetch(ctx context.Context, reqs []Request) (map[string][]Record, error)
}
