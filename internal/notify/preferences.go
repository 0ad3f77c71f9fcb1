package notify

import (
	"context"
	"strconv"
	"time"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/keystore"
	"portalsync/internal/components/observable"
	"portalsync/internal/components/telemetry"
)

const report_preferences = "preferences"

const (
	KeyNotificationsEnabled = "prefs.notifications_enabled"
	KeyLectureAlertsEnabled = "prefs.lecture_alerts_enabled"
)

// Preferences holds the notification switches. Both default to on and are
// kept across logouts.
type Preferences struct {
	store keystore.Store
	tel   telemetry.API

	Notifications *observable.Value[bool]
	LectureAlerts *observable.Value[bool]
	enabled       *observable.Value[bool]
}

func LoadPreferences(ctx context.Context, store keystore.Store, tel telemetry.API) (*Preferences, error) {
	assert.NotNil(store)
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("notify", tel)

	notifications, err := readFlag(ctx, store, KeyNotificationsEnabled)
	if err != nil {
		tel.ReportBroken(report_preferences, err, KeyNotificationsEnabled)
		return nil, err
	}
	lectureAlerts, err := readFlag(ctx, store, KeyLectureAlertsEnabled)
	if err != nil {
		tel.ReportBroken(report_preferences, err, KeyLectureAlertsEnabled)
		return nil, err
	}

	p := &Preferences{
		store:         store,
		tel:           tel,
		Notifications: observable.New(notifications),
		LectureAlerts: observable.New(lectureAlerts),
	}
	p.enabled = observable.And(p.Notifications, p.LectureAlerts)
	return p, nil
}

func readFlag(ctx context.Context, store keystore.Store, key string) (bool, error) {
	value, err := store.GetString(ctx, key, "true")
	if err != nil {
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

func (p *Preferences) read(ctx context.Context) (notifications, lectureAlerts bool, err error) {
	notifications, err = readFlag(ctx, p.store, KeyNotificationsEnabled)
	if err != nil {
		p.tel.ReportWarning(report_preferences, err, KeyNotificationsEnabled)
		return false, false, err
	}
	lectureAlerts, err = readFlag(ctx, p.store, KeyLectureAlertsEnabled)
	if err != nil {
		p.tel.ReportWarning(report_preferences, err, KeyLectureAlertsEnabled)
		return false, false, err
	}
	return notifications, lectureAlerts, nil
}

// StoredEnabled reads both switches from the store without notifying
// subscribers. It sees changes made by another process before Reload does.
func (p *Preferences) StoredEnabled(ctx context.Context) (bool, error) {
	notifications, lectureAlerts, err := p.read(ctx)
	if err != nil {
		return false, err
	}
	return notifications && lectureAlerts, nil
}

// Reload reads both switches from the store again, picking up changes made
// by another process. Subscribers are notified of the values that changed,
// so it must not be called from a subscriber's own work.
func (p *Preferences) Reload(ctx context.Context) error {
	notifications, lectureAlerts, err := p.read(ctx)
	if err != nil {
		return err
	}
	p.Notifications.Set(notifications)
	p.LectureAlerts.Set(lectureAlerts)
	return nil
}

// Watch reloads the preferences every `interval` until ctx is cancelled.
func (p *Preferences) Watch(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Reload(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Enabled is true while both notifications and lecture alerts are on.
func (p *Preferences) Enabled() *observable.Value[bool] {
	return p.enabled
}

func (p *Preferences) set(ctx context.Context, key string, flag *observable.Value[bool], enabled bool) error {
	err := p.store.SetString(ctx, key, strconv.FormatBool(enabled))
	if err != nil {
		p.tel.ReportBroken(report_preferences, err, key)
		return err
	}
	flag.Set(enabled)
	return nil
}

func (p *Preferences) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	return p.set(ctx, KeyNotificationsEnabled, p.Notifications, enabled)
}

func (p *Preferences) SetLectureAlertsEnabled(ctx context.Context, enabled bool) error {
	return p.set(ctx, KeyLectureAlertsEnabled, p.LectureAlerts, enabled)
}
