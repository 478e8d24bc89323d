package dashboard

import (
	"context"
	"sync"
	"time"

	"ownclock/internal/battery"
	appLog "ownclock/internal/log"
)

// BatteryView is the battery corner indicator. It is hidden when Level is
// unavailable.
type BatteryView struct {
	battery.Status
	Level     battery.Level `json:"level"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

// Power polls a battery reader.
type Power struct {
	reader battery.Reader

	mu   sync.RWMutex
	view BatteryView
}

// NewPower builds the battery module. A nil reader leaves the indicator
// hidden.
func NewPower(r battery.Reader) *Power {
	return &Power{reader: r, view: BatteryView{Level: battery.LevelUnavailable}}
}

// Refresh reads the battery once. A read error hides the indicator.
func (p *Power) Refresh(ctx context.Context, now time.Time) BatteryView {
	if p.reader == nil {
		return p.View()
	}

	s, err := p.reader.Read(ctx)
	if err != nil {
		appLog.Warn("battery read failed", "reason", err.Error())
		s = battery.Status{}
	}

	v := BatteryView{Status: s, Level: battery.Classify(s), UpdatedAt: now}
	p.mu.Lock()
	p.view = v
	p.mu.Unlock()
	return v
}

// View returns the indicator from the last Refresh.
func (p *Power) View() BatteryView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.view
}
