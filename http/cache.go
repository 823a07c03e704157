package http

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"flightdelay/flight"
	"flightdelay/schema"
)

type prediction struct {
	label int
	proba float64
}

// predictionCache memoises per-record predictions. Keys carry the bundle version so a
// different bundle never reads another's entries. A nil cache is disabled.
type predictionCache struct {
	entries *lru.Cache[string, prediction]
}

func newPredictionCache(size int) (*predictionCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, prediction](size)
	if err != nil {
		return nil, err
	}
	return &predictionCache{entries: entries}, nil
}

func cacheKey(version string, r flight.Record) string {
	var b strings.Builder
	b.WriteString(version)
	b.WriteByte(0)
	b.WriteString(schema.CanonicalCarrier(r.Carrier))
	b.WriteByte(0)
	b.WriteString(schema.CanonicalFlightType(r.FlightType))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(r.Month))
	return b.String()
}

func (c *predictionCache) get(version string, r flight.Record) (prediction, bool) {
	if c == nil {
		return prediction{}, false
	}
	return c.entries.Get(cacheKey(version, r))
}

func (c *predictionCache) add(version string, r flight.Record, p prediction) {
	if c == nil {
		return
	}
	c.entries.Add(cacheKey(version, r), p)
}

func (c *predictionCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
