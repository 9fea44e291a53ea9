package waveform

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seisworks/dlrepick/internal/model"
)

// ErrNoData marks a stream for which the archive holds nothing.
var ErrNoData = errors.New("waveform: no data")

// FSArchive stores waveform records per event and stream:
//
//	<root>/events/<eventID>/waveforms/<NET.STA.LOC.CHA>.json
//
// The picker client writes segments here after acquisition; the
// repicker reads them back when assembling refiner input.
type FSArchive struct {
	root string
}

// NewFSArchive creates the archive rooted at the working directory.
func NewFSArchive(root string) *FSArchive {
	return &FSArchive{root: root}
}

func (a *FSArchive) dir(eventID string) string {
	return filepath.Join(a.root, "events", eventID, "waveforms")
}

// Save writes one stream's records, overwriting any previous file since
// later acquisitions may contain additional records.
func (a *FSArchive) Save(eventID string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	dir := a.dir(eventID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("waveform: create %s: %w", dir, err)
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("waveform: marshal records: %w", err)
	}
	path := filepath.Join(dir, recs[0].Stream.String()+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("waveform: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Has reports whether a stream file already exists for the event.
func (a *FSArchive) Has(eventID string, stream model.StreamID) bool {
	_, err := os.Stat(filepath.Join(a.dir(eventID), stream.String()+".json"))
	return err == nil
}

// Load reads one stream's records, ErrNoData if absent.
func (a *FSArchive) Load(eventID string, stream model.StreamID) ([]Record, error) {
	path := filepath.Join(a.dir(eventID), stream.String()+".json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("waveform: read %s: %w", path, err)
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("waveform: parse %s: %w", path, err)
	}
	return recs, nil
}

// LoadComponents loads the three components of a band-level stream.
// Vertical must be the Z channel; horizontals accept N/1 and E/2
// naming. ErrNoData if any component is missing.
func (a *FSArchive) LoadComponents(eventID string, band model.StreamID) (z, n, e []Record, err error) {
	band = band.Band()
	z, err = a.Load(eventID, withComponent(band, "Z"))
	if err != nil {
		return nil, nil, nil, err
	}
	n, err = a.loadAny(eventID, band, "N", "1")
	if err != nil {
		return nil, nil, nil, err
	}
	e, err = a.loadAny(eventID, band, "E", "2")
	if err != nil {
		return nil, nil, nil, err
	}
	return z, n, e, nil
}

func (a *FSArchive) loadAny(eventID string, band model.StreamID, comps ...string) ([]Record, error) {
	for _, c := range comps {
		recs, err := a.Load(eventID, withComponent(band, c))
		if err == nil {
			return recs, nil
		}
		if !errors.Is(err, ErrNoData) {
			return nil, err
		}
	}
	return nil, ErrNoData
}

func withComponent(band model.StreamID, comp string) model.StreamID {
	s := band
	s.Channel = band.Channel + comp
	return s
}
