package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"miniscope/internal/config"
	"miniscope/internal/display"
	"miniscope/internal/trigger"
)

// Horizontal scale limits.
const (
	MinTimePerDiv = 20 * time.Microsecond
	MaxTimePerDiv = 2 * time.Millisecond
)

// User multiplier limits.
const (
	MinMultiplier float64 = 0.001
	MaxMultiplier float64 = 1000
)

// ChannelSettings are the user controls of one channel, including its own
// trigger edge and smoothing.
type ChannelSettings struct {
	Enabled       bool    `json:"enabled"`
	TriggerLevel  float64 `json:"trigger_level"` // ADC counts
	Rising        bool    `json:"rising"`
	FilterEnabled bool    `json:"filter_enabled"`
	FilterWindow  int     `json:"filter_window"`
	MinWidth      int     `json:"min_width"`
	MaxFound      int     `json:"max_found"`
	Multiplier    float64 `json:"multiplier"`
	Offset        float64 `json:"offset"` // volts, added before scaling
}

// Settings is everything a frontend may change at runtime. Values are
// immutable once published; updates swap in a new copy.
//
// TimePerDiv travels over JSON as time_per_div_ms, the unit Patch accepts.
type Settings struct {
	Mode       display.Mode    `json:"mode"`
	TimePerDiv time.Duration   `json:"-"`
	Ch1        ChannelSettings `json:"ch1"`
	Ch2        ChannelSettings `json:"ch2"`
	Frozen     bool            `json:"frozen"`
	FFT        bool            `json:"fft"`
	AutoScale  bool            `json:"autoscale"`
	Volume     float64         `json:"volume"`
}

type settingsFields Settings

func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		settingsFields
		TimePerDivMs float64 `json:"time_per_div_ms"`
	}{settingsFields(s), durationMs(s.TimePerDiv)})
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	aux := struct {
		*settingsFields
		TimePerDivMs float64 `json:"time_per_div_ms"`
	}{settingsFields: (*settingsFields)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.TimePerDiv = msDuration(aux.TimePerDivMs)
	return nil
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// SettingsFromConfig builds the startup settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	mode, err := display.ParseMode(cfg.Trigger.Mode)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Mode:       mode,
		TimePerDiv: cfg.Display.TimePerDiv,
		Ch1:        channelSettings(cfg.Channels.CH1),
		Ch2:        channelSettings(cfg.Channels.CH2),
		FFT:        cfg.Display.FFT,
		AutoScale:  cfg.AutoScale.Enabled,
		Volume:     cfg.Audio.Volume,
	}
	return s.normalize(cfg.Display.ADCMax), nil
}

func channelSettings(c config.ChannelConfig) ChannelSettings {
	return ChannelSettings{
		Enabled:       c.Enabled,
		TriggerLevel:  c.TriggerLevel,
		Rising:        c.Rising,
		FilterEnabled: c.FilterEnabled,
		FilterWindow:  c.FilterWindow,
		MinWidth:      c.MinWidth,
		MaxFound:      c.MaxFound,
		Multiplier:    c.Multiplier,
		Offset:        c.Offset,
	}
}

// normalize clamps every control into its legal range.
func (s Settings) normalize(adcMax float64) Settings {
	s.TimePerDiv = clampDuration(s.TimePerDiv, MinTimePerDiv, MaxTimePerDiv)
	s.Volume = clamp(s.Volume, 0, 1)
	for _, ch := range []*ChannelSettings{&s.Ch1, &s.Ch2} {
		ch.Multiplier = clamp(ch.Multiplier, MinMultiplier, MaxMultiplier)
		ch.TriggerLevel = clamp(ch.TriggerLevel, 0, adcMax)
		ch.FilterWindow = max(ch.FilterWindow, 1)
		ch.MinWidth = max(ch.MinWidth, 0)
		ch.MaxFound = max(ch.MaxFound, 1)
	}
	return s
}

// trigger is the detector configuration for this channel alone.
func (ch ChannelSettings) trigger() trigger.Config {
	return trigger.Config{
		Threshold:     ch.TriggerLevel,
		Rising:        ch.Rising,
		MinWidth:      ch.MinWidth,
		FilterEnabled: ch.FilterEnabled,
		FilterWindow:  ch.FilterWindow,
		MaxFound:      ch.MaxFound,
	}
}

// ChannelPatch changes selected fields of one channel.
type ChannelPatch struct {
	Enabled       *bool    `json:"enabled,omitempty"`
	TriggerLevel  *float64 `json:"trigger_level,omitempty"`
	Rising        *bool    `json:"rising,omitempty"`
	FilterEnabled *bool    `json:"filter_enabled,omitempty"`
	FilterWindow  *int     `json:"filter_window,omitempty"`
	MinWidth      *int     `json:"min_width,omitempty"`
	MaxFound      *int     `json:"max_found,omitempty"`
	Multiplier    *float64 `json:"multiplier,omitempty"`
	Offset        *float64 `json:"offset,omitempty"`
}

// Patch is a partial settings update; nil fields are left alone.
type Patch struct {
	Mode         *string       `json:"mode,omitempty"`
	TimePerDivMs *float64      `json:"time_per_div_ms,omitempty"`
	Ch1          *ChannelPatch `json:"ch1,omitempty"`
	Ch2          *ChannelPatch `json:"ch2,omitempty"`
	Frozen       *bool         `json:"frozen,omitempty"`
	FFT          *bool         `json:"fft,omitempty"`
	AutoScale    *bool         `json:"autoscale,omitempty"`
	Volume       *float64      `json:"volume,omitempty"`
}

// Validate reports a patch that cannot be applied.
func (p Patch) Validate() error {
	if p.Mode != nil {
		if _, err := display.ParseMode(*p.Mode); err != nil {
			return fmt.Errorf("invalid settings patch: %w", err)
		}
	}
	return nil
}

// Apply returns s with the patch applied. Only the mode can be invalid;
// numeric values are clamped later.
func (p Patch) Apply(s Settings) (Settings, error) {
	if p.Mode != nil {
		mode, err := display.ParseMode(*p.Mode)
		if err != nil {
			return s, fmt.Errorf("invalid settings patch: %w", err)
		}
		s.Mode = mode
	}
	if p.TimePerDivMs != nil {
		s.TimePerDiv = msDuration(*p.TimePerDivMs)
	}
	p.Ch1.apply(&s.Ch1)
	p.Ch2.apply(&s.Ch2)
	setBool(&s.Frozen, p.Frozen)
	setBool(&s.FFT, p.FFT)
	setBool(&s.AutoScale, p.AutoScale)
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	return s, nil
}

func (p *ChannelPatch) apply(ch *ChannelSettings) {
	if p == nil {
		return
	}
	setBool(&ch.Enabled, p.Enabled)
	if p.TriggerLevel != nil {
		ch.TriggerLevel = *p.TriggerLevel
	}
	setBool(&ch.Rising, p.Rising)
	setBool(&ch.FilterEnabled, p.FilterEnabled)
	setInt(&ch.FilterWindow, p.FilterWindow)
	setInt(&ch.MinWidth, p.MinWidth)
	setInt(&ch.MaxFound, p.MaxFound)
	if p.Multiplier != nil {
		ch.Multiplier = *p.Multiplier
	}
	if p.Offset != nil {
		ch.Offset = *p.Offset
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
