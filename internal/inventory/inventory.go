// Package inventory provides time-scoped access to station metadata.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// Stream is one sensor stream of a station: a location code, the
// two-character channel band and the component codes recorded there.
type Stream struct {
	Location   string    `json:"locationCode"`
	Band       string    `json:"channelBand"`
	Components []string  `json:"components"`
	Start      time.Time `json:"start"`
	// End is nil for an open-ended epoch.
	End *time.Time `json:"end,omitempty"`
}

// Station is a station epoch with its streams.
type Station struct {
	Network   string     `json:"networkCode"`
	Station   string     `json:"stationCode"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end,omitempty"`
	Streams   []Stream   `json:"streams"`
}

func (s Station) operational(t time.Time) bool {
	return operational(s.Start, s.End, t)
}

func (s Stream) operational(t time.Time) bool {
	return operational(s.Start, s.End, t)
}

// An epoch with unknown start is never considered operational; an
// epoch with unknown end is open-ended.
func operational(start time.Time, end *time.Time, t time.Time) bool {
	if start.IsZero() || t.Before(start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

// Inventory yields the station metadata operational at a given instant.
type Inventory interface {
	StationsAt(t time.Time) []Station
}

// Static is an in-memory inventory, typically loaded once at startup.
type Static struct {
	stations []Station
}

func NewStatic(stations []Station) *Static {
	return &Static{stations: stations}
}

// LoadFile reads a JSON station list, the format the deployment tooling
// exports from the station metadata service.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	var stations []Station
	if err := json.Unmarshal(b, &stations); err != nil {
		return nil, fmt.Errorf("inventory: parse %s: %w", path, err)
	}
	return &Static{stations: stations}, nil
}

func (s *Static) StationsAt(t time.Time) []Station {
	var out []Station
	for _, sta := range s.stations {
		if !sta.operational(t) {
			continue
		}
		cp := sta
		cp.Streams = nil
		for _, str := range sta.Streams {
			if str.operational(t) {
				cp.Streams = append(cp.Streams, str)
			}
		}
		if len(cp.Streams) > 0 {
			out = append(out, cp)
		}
	}
	return out
}

// Components builds the map from band-level stream ID to the component
// codes available there, honoring the station blacklist.
func Components(inv Inventory, t time.Time, blacklist map[string]bool) map[model.StreamID][]string {
	components := make(map[model.StreamID][]string)
	for _, sta := range inv.StationsAt(t) {
		if blacklist[sta.Network+"."+sta.Station] {
			continue
		}
		for _, str := range sta.Streams {
			id := model.StreamID{
				Network:  sta.Network,
				Station:  sta.Station,
				Location: str.Location,
				Channel:  str.Band,
			}
			components[id] = append(components[id], str.Components...)
		}
	}
	return components
}
