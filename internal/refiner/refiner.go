// Package refiner wraps the deep-learning phase-annotation backends.
package refiner

import (
	"context"
	"time"

	"github.com/seisworks/dlrepick/internal/waveform"
)

// StationWaveform is one station's three-component input to annotation.
type StationWaveform struct {
	Network  string            `json:"networkCode"`
	Station  string            `json:"stationCode"`
	Location string            `json:"locationCode"`
	Z        []waveform.Record `json:"z"`
	N        []waveform.Record `json:"n"`
	E        []waveform.Record `json:"e"`
}

// Annotation is the model's confidence trace for one station and phase,
// sampled at SampleRate starting at Start.
type Annotation struct {
	Network    string    `json:"networkCode"`
	Station    string    `json:"stationCode"`
	Location   string    `json:"locationCode"`
	Phase      string    `json:"phase"`
	Start      time.Time `json:"start"`
	SampleRate float64   `json:"sampleRate"`
	Confidence []float64 `json:"confidence"`
}

// Peak is one local maximum of a confidence trace.
type Peak struct {
	Time       time.Time
	Confidence float64
}

// Refiner annotates batches of station waveforms with phase confidence
// traces.
type Refiner interface {
	// Name identifies the model, recorded on every refined pick.
	Name() string

	// MinInputSeconds is the shortest waveform span the model accepts.
	MinInputSeconds() float64

	// Annotate runs the model over the batch. Stations the model could
	// not annotate are simply absent from the result.
	Annotate(ctx context.Context, batch []StationWaveform) ([]Annotation, error)
}

// FindPeaks extracts the local maxima of an annotation's confidence
// trace that rise above height. A plateau yields its first sample.
func FindPeaks(a Annotation, height float64) []Peak {
	var peaks []Peak
	conf := a.Confidence
	if a.SampleRate <= 0 {
		return nil
	}
	for i := range conf {
		if conf[i] < height {
			continue
		}
		if i > 0 && conf[i-1] >= conf[i] {
			continue
		}
		if i < len(conf)-1 && conf[i+1] > conf[i] {
			continue
		}
		dt := float64(i) / a.SampleRate
		peaks = append(peaks, Peak{
			Time:       a.Start.Add(time.Duration(dt * float64(time.Second))),
			Confidence: conf[i],
		})
	}
	return peaks
}
