package config

import (
	"fmt"
	"maps"
	"time"
)

// ConfigDiff describes what changed between two configs. The hot-reloadable
// subset is tracked by value; everything else is reported by path in
// RestartRequired.
type ConfigDiff struct {
	VoiceChanged bool
	NewVoice     string

	// CatalogChanged is set when voices.catalog differs.
	CatalogChanged bool

	TargetLanguageChanged bool
	// NewTargetLanguage is "" when translation was disabled.
	NewTargetLanguage string

	MinSilenceChanged bool
	NewMinSilence     time.Duration

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed sections that only take effect on the
	// next process start.
	RestartRequired []string
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.VoiceChanged && !d.CatalogChanged && !d.TargetLanguageChanged &&
		!d.MinSilenceChanged && !d.LogLevelChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Voices.Selected != new.Voices.Selected {
		d.VoiceChanged = true
		d.NewVoice = new.Voices.Selected
	}
	d.CatalogChanged = !maps.Equal(old.Voices.Catalog, new.Voices.Catalog)

	if ot, nt := old.Translation.EffectiveTarget(), new.Translation.EffectiveTarget(); ot != nt {
		d.TargetLanguageChanged = true
		d.NewTargetLanguage = nt
	}

	if old.Segmentation.MinSilence != new.Segmentation.MinSilence {
		d.MinSilenceChanged = true
		d.NewMinSilence = new.Segmentation.MinSilence
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	oaud, naud := old.Audio, new.Audio
	oaud.CalibrationMargin, naud.CalibrationMargin = nil, nil
	if oaud != naud || old.Audio.Margin() != new.Audio.Margin() {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	oseg, nseg := old.Segmentation, new.Segmentation
	oseg.MinSilence, nseg.MinSilence = 0, 0
	if oseg != nseg {
		d.RestartRequired = append(d.RestartRequired, "segmentation")
	}
	if old.Dispatch != new.Dispatch {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) ||
		!sameEntry(old.Providers.TTS, new.Providers.TTS) ||
		!sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!sameEntry(old.Providers.Translate, new.Providers.Translate) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Translation.Source != new.Translation.Source {
		d.RestartRequired = append(d.RestartRequired, "translation.source")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}

// sameEntry compares the scalar fields of two entries. Options are compared
// by key set and string form only.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
