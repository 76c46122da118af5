package game

import (
	"fmt"
	"math/rand"
)

// MarketChannel - накопленное изменение цены ресурса в процентах
type MarketChannel struct {
	Change     int    `json:"change"`
	Percentage string `json:"percentage"`
}

func (c *MarketChannel) relabel() {
	c.Percentage = fmt.Sprintf("%+d%%", c.Change)
}

type Market struct {
	Gold  MarketChannel `json:"gold"`
	Water MarketChannel `json:"water"`
	Oil   MarketChannel `json:"oil"`
}

func NewMarket() Market {
	m := Market{}
	for _, r := range Resources {
		m.Channel(r).relabel()
	}
	return m
}

// Channel возвращает канал рынка для ресурса или nil
func (m *Market) Channel(r Resource) *MarketChannel {
	switch r {
	case Gold:
		return &m.Gold
	case Water:
		return &m.Water
	case Oil:
		return &m.Oil
	}
	return nil
}

// Shift сдвигает накопленное изменение без ограничения (используется при сжигании)
func (m *Market) Shift(r Resource, delta int) {
	c := m.Channel(r)
	if c == nil {
		return
	}
	c.Change += delta
	c.relabel()
}

// Drift двигает каждый ресурс на случайную величину в [-MarketDriftMax, MarketDriftMax]
// и зажимает накопленное изменение в [-MarketChangeMax, MarketChangeMax]
func (m *Market) Drift(rng *rand.Rand) {
	for _, r := range Resources {
		c := m.Channel(r)
		c.Change = clamp(c.Change+rng.Intn(2*MarketDriftMax+1)-MarketDriftMax, -MarketChangeMax, MarketChangeMax)
		c.relabel()
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
