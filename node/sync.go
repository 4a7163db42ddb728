package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"gitlab.com/lologarithm/cloudthermo/actuator"
	"gitlab.com/lologarithm/cloudthermo/refuge"
	"gitlab.com/lologarithm/cloudthermo/sensor"
)

// SyncActuators reads each actuator key independently and applies whatever
// was read. A failed read leaves only that output unchanged.
func (n *Node) SyncActuators(ctx context.Context) (refuge.Actuators, error) {
	var applied refuge.Actuators
	if !n.store.Ready() {
		return applied, ErrNotReady
	}

	applied.Green = n.applyDigital(ctx, refuge.KeyLedGreen, n.out.Green)
	applied.Red = n.applyDigital(ctx, refuge.KeyLedRed, n.out.Red)
	for i, key := range refuge.RGBKeys {
		applied.RGB[i] = n.applyPWM(ctx, key, n.out.RGB[i])
	}

	if applied.Applied() > 0 {
		n.notify(refuge.Event{Actuators: &applied})
	}
	return applied, nil
}

func (n *Node) applyDigital(ctx context.Context, key string, out actuator.Digital) *bool {
	on, err := n.store.GetBool(ctx, key)
	if err != nil {
		n.metrics.ReadFailed(key)
		n.log.Warn("actuator read failed", zap.String("path", key), zap.Error(err))
		return nil
	}
	out.Set(on)
	n.log.Debug("led set", zap.String("path", key), zap.Bool("on", on))
	return &on
}

func (n *Node) applyPWM(ctx context.Context, key string, out actuator.PWM) *int {
	v, err := n.store.GetInt(ctx, key)
	if err != nil {
		n.metrics.ReadFailed(key)
		n.log.Warn("actuator read failed", zap.String("path", key), zap.Error(err))
		return nil
	}
	out.SetDuty(v)
	n.log.Debug("rgb channel set", zap.String("path", key), zap.Int("duty", v))
	return &v
}

// SyncSensor reads the thermometer and writes one record. Nothing is written
// when either value is NaN or the clock has not synchronized yet.
func (n *Node) SyncSensor(ctx context.Context) (refuge.Record, error) {
	if !n.store.Ready() {
		return refuge.Record{}, ErrNotReady
	}

	humidity, temp := n.therm.Read()
	if sensor.IsNaN(humidity) || sensor.IsNaN(temp) {
		return refuge.Record{}, ErrBadReading
	}
	now, err := n.clock.Now()
	if err != nil {
		return refuge.Record{}, fmt.Errorf("timestamp: %w", err)
	}

	rd := refuge.Reading{Temp: temp, Humidity: humidity, Time: now}
	rec := refuge.NewRecord(rd, n.cfg.Zone, n.cfg.Thresholds)
	if err := n.write(ctx, rec); err != nil {
		return rec, err
	}

	n.metrics.Reading(temp, humidity)
	n.log.Info("reading sent",
		zap.String("path", rec.Path()),
		zap.Float32("temp", rec.Temp),
		zap.Float32("humidity", rec.Humidity),
		zap.String("comfort", string(rec.Comfort)),
		zap.String("timestamp", rec.Timestamp),
	)
	n.notify(refuge.Event{Record: &rec})
	return rec, nil
}

// write sends all four fields, continuing past individual failures.
func (n *Node) write(ctx context.Context, rec refuge.Record) error {
	errs := []error{
		n.store.SetString(ctx, rec.Field(refuge.FieldTimestamp), rec.Timestamp),
		n.store.SetFloat(ctx, rec.Field(refuge.FieldTemp), float64From32(rec.Temp)),
		n.store.SetFloat(ctx, rec.Field(refuge.FieldHumidity), float64From32(rec.Humidity)),
		n.store.SetString(ctx, rec.Field(refuge.FieldComfort), string(rec.Comfort)),
	}
	for _, err := range errs {
		if err != nil {
			n.metrics.WriteFailed()
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("write %s: %w", rec.Path(), err)
	}
	return nil
}

// float64From32 keeps the shortest decimal form, so 35.1 is stored as 35.1
// and not 35.099998474121094.
func float64From32(v float32) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
	return f
}
