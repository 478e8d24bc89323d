// Package dashboard holds the kiosk's view modules (clock, weather, agenda,
// battery) and keeps them in step with the shared configuration.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"ownclock/internal/battery"
	appLog "ownclock/internal/log"
	"ownclock/internal/model"
	"ownclock/internal/sched"
	"ownclock/internal/watch"
)

// Options wires a Dashboard.
type Options struct {
	Watcher  *watch.Watcher
	Weather  WeatherSource
	Calendar CalendarSource
	// Extra calendar entries merged into the agenda. Optional.
	Extra EventSource
	// Battery reader. Optional.
	Battery battery.Reader

	// CalendarRefresh is a 5-field cron spec evaluated in the display zone.
	CalendarRefresh string
	BatteryInterval time.Duration
	// RefreshTimeout bounds one module refresh. Zero means 30s.
	RefreshTimeout time.Duration

	Now func() time.Time
}

// State is a copy of everything the kiosk view shows.
type State struct {
	Clock       ClockView    `json:"clock"`
	Weather     WeatherView  `json:"weather"`
	Calendar    CalendarView `json:"calendar"`
	Battery     BatteryView  `json:"battery"`
	Fingerprint string       `json:"fingerprint"`
}

// Dashboard owns the four modules and their refresh tasks.
type Dashboard struct {
	opts     Options
	watcher  *watch.Watcher
	clock    *Clock
	weather  *Weather
	calendar *Calendar
	power    *Power

	mu           sync.Mutex
	applied      model.ConfigSnapshot
	fingerprint  watch.Fingerprint
	weatherEvery time.Duration
	calendarZone string
	weatherTask  *sched.Task
	calendarTask *sched.Task
	batteryTask  *sched.Task
	unsubscribe  func()
	running      bool
}

// New builds an idle Dashboard; Start brings it up.
func New(opts Options) *Dashboard {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.CalendarRefresh == "" {
		opts.CalendarRefresh = "*/5 * * * *"
	}
	if opts.BatteryInterval <= 0 {
		opts.BatteryInterval = time.Minute
	}
	return &Dashboard{
		opts:     opts,
		watcher:  opts.Watcher,
		clock:    NewClock(),
		weather:  NewWeather(opts.Weather),
		calendar: NewCalendar(opts.Calendar, opts.Extra),
		power:    NewPower(opts.Battery),
		applied:  model.ConfigSnapshot{}.WithDefaults(),
	}
}

// Start applies the watcher's current snapshot (or the defaults when the
// backend has not answered yet), refreshes every module once, subscribes to
// configuration changes and schedules the periodic refreshes.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dashboard: already started")
	}
	d.running = true
	d.mu.Unlock()

	snap, _ := d.watcher.Snapshot()
	if err := d.Apply(ctx, snap); err != nil {
		appLog.Error("dashboard: initial config not fully applied", err)
	}
	d.refreshBattery(ctx)

	unsubscribe := d.watcher.Subscribe("dashboard", d.Apply)

	battTask, err := sched.Every("battery", d.opts.BatteryInterval, d.refreshBattery)
	if err != nil {
		unsubscribe()
		return err
	}

	d.mu.Lock()
	d.unsubscribe = unsubscribe
	d.batteryTask = battTask
	d.mu.Unlock()
	return nil
}

// Stop cancels all refresh tasks and the watcher subscription.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	tasks := []*sched.Task{d.weatherTask, d.calendarTask, d.batteryTask}
	d.weatherTask, d.calendarTask, d.batteryTask = nil, nil, nil
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.running = false
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, t := range tasks {
		t.Stop()
	}
}

// Apply makes s the active configuration: zone and clock format change
// immediately, weather and agenda are refetched, and refresh tasks whose
// schedule depends on s are re-created. It is the watcher subscriber.
func (d *Dashboard) Apply(ctx context.Context, s model.ConfigSnapshot) error {
	s = s.WithDefaults()
	zoneErr := d.clock.Apply(s)

	d.mu.Lock()
	d.applied = s
	d.fingerprint = watch.Compute(s)
	err := d.rescheduleLocked()
	d.mu.Unlock()

	appLog.Info("dashboard config applied",
		"timezone", s.Timezone,
		"clock_format", s.ClockFormat,
		"update_interval_ms", s.UpdateInterval,
		"calendars", len(s.CalendarEntities),
	)

	d.refreshWeather(ctx)
	d.refreshCalendar(ctx)

	return errors.Join(zoneErr, err)
}

// rescheduleLocked re-creates the weather task when the update interval
// changed and the calendar task when the display zone changed.
func (d *Dashboard) rescheduleLocked() error {
	if !d.running {
		return nil
	}

	var errs []error

	every := time.Duration(d.applied.UpdateInterval) * time.Millisecond
	if d.weatherTask == nil || every != d.weatherEvery {
		d.weatherTask.Stop()
		d.weatherTask = nil
		t, err := sched.Every("weather", every, d.weatherTick)
		if err != nil {
			errs = append(errs, err)
		} else {
			d.weatherTask, d.weatherEvery = t, every
		}
	}

	loc := d.clock.Location()
	if d.calendarTask == nil || loc.String() != d.calendarZone {
		d.calendarTask.Stop()
		d.calendarTask = nil
		t, err := sched.Cron("calendar", d.opts.CalendarRefresh, loc, d.refreshCalendar)
		if err != nil {
			errs = append(errs, err)
		} else {
			d.calendarTask, d.calendarZone = t, loc.String()
		}
	}

	return errors.Join(errs...)
}

// weatherTick refreshes the weather and, when the watcher knows a snapshot
// this dashboard has not applied yet, applies it. That covers a backend that
// was unreachable at startup: its first answer becomes the watcher's
// baseline without a change notification.
func (d *Dashboard) weatherTick(ctx context.Context) {
	if fp, ok := d.watcher.Fingerprint(); ok {
		d.mu.Lock()
		stale := fp != d.fingerprint
		d.mu.Unlock()
		if stale {
			snap, _ := d.watcher.Snapshot()
			// Apply may replace this very task, cancelling ctx.
			if err := d.Apply(context.WithoutCancel(ctx), snap); err != nil {
				appLog.Error("dashboard: config catch-up failed", err)
			}
			return
		}
	}
	d.refreshWeather(ctx)
}

func (d *Dashboard) refreshWeather(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.RefreshTimeout)
	defer cancel()
	d.weather.Refresh(ctx, d.opts.Now())
}

func (d *Dashboard) refreshCalendar(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.RefreshTimeout)
	defer cancel()
	_ = d.calendar.Refresh(ctx, d.clock.Location(), d.opts.Now())
}

func (d *Dashboard) refreshBattery(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.RefreshTimeout)
	defer cancel()
	d.power.Refresh(ctx, d.opts.Now())
}

// Refresh refetches weather, agenda and battery now.
func (d *Dashboard) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	for _, fn := range []func(context.Context){d.refreshWeather, d.refreshCalendar, d.refreshBattery} {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(fn)
	}
	wg.Wait()
}

// SaveConfig writes s through the watcher, so the write is not reported back
// as a remote change, then applies it locally. A save kept only in the local
// copy is applied too and returned with watch.ErrStoredLocally.
func (d *Dashboard) SaveConfig(ctx context.Context, s model.ConfigSnapshot) (model.ConfigSnapshot, error) {
	saved, err := d.watcher.Save(ctx, s)
	if err != nil && !errors.Is(err, watch.ErrStoredLocally) {
		return model.ConfigSnapshot{}, err
	}
	if aerr := d.Apply(ctx, saved); aerr != nil {
		appLog.Error("dashboard: saved config not fully applied", aerr)
	}
	return saved, err
}

// Config reads the shared configuration from the backend. When it cannot be
// reached, the watcher's last known snapshot is used, then the one applied
// here.
func (d *Dashboard) Config(ctx context.Context) model.ConfigSnapshot {
	s, err := d.watcher.Current(ctx)
	if err == nil {
		return s
	}
	appLog.Warn("dashboard: config unavailable; using applied copy", "err", err)
	return d.Applied()
}

// Applied returns the configuration currently applied.
func (d *Dashboard) Applied() model.ConfigSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied.WithDefaults()
}

// Agenda returns the agenda classified at the current time.
func (d *Dashboard) Agenda() CalendarView {
	return d.calendar.View(d.clock.Location(), d.opts.Now())
}

// State returns a copy of the whole view.
func (d *Dashboard) State() State {
	now := d.opts.Now()
	loc := d.clock.Location()

	d.mu.Lock()
	fp := d.fingerprint
	d.mu.Unlock()

	return State{
		Clock:       d.clock.View(now),
		Weather:     d.weather.View(),
		Calendar:    d.calendar.View(loc, now),
		Battery:     d.power.View(),
		Fingerprint: string(fp),
	}
}
