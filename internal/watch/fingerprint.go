package watch

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"ownclock/internal/model"
)

// Fingerprint is a change-detection digest of a ConfigSnapshot. It is not a
// security primitive.
type Fingerprint string

// canonical lists the snapshot fields that affect what the dashboard shows.
// LastUpdate is left out: it changes on every save without changing output.
type canonical struct {
	HAURL            string   `json:"haUrl"`
	HAToken          string   `json:"haToken"`
	WeatherEntity    string   `json:"weatherEntity"`
	CalendarEntities []string `json:"calendarEntities"`
	Timezone         string   `json:"timezone"`
	UpdateInterval   int      `json:"updateInterval"`
	ClockFormat      string   `json:"clockFormat"`
}

// Compute returns the fingerprint of the canonical subset of s. Defaults are
// applied first, so an omitted field and its default value agree.
func Compute(s model.ConfigSnapshot) Fingerprint {
	s = s.WithDefaults()
	c := canonical{
		HAURL:            s.HAURL,
		HAToken:          s.HAToken,
		WeatherEntity:    s.WeatherEntity,
		CalendarEntities: s.CalendarEntities,
		Timezone:         s.Timezone,
		UpdateInterval:   s.UpdateInterval,
		ClockFormat:      s.ClockFormat,
	}
	// Marshalling a struct of strings and ints cannot fail.
	data, _ := json.Marshal(c)
	return Fingerprint(fmt.Sprintf("%016x", xxhash.Sum64(data)))
}
