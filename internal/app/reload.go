package app

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
)

// ApplyConfig applies the hot-reloadable part of a config change: the voice
// catalogue, the selected voice, the translation target and the minimum
// silence. A running session sees the new minimum silence on its next frame
// through a new profile version. Everything else is logged as needing a
// restart. It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.CatalogChanged {
		if err := a.catalog.Replace(new.Voices.Catalog, catalogFallback(new.Voices)); err != nil {
			slog.Warn("config reload: voice catalogue rejected", "err", err)
		} else {
			slog.Info("config reload: voice catalogue replaced", "voices", len(new.Voices.Catalog))
		}
	}
	if d.VoiceChanged {
		if _, err := a.SetVoice(d.NewVoice); err != nil {
			slog.Warn("config reload: voice not applied", "voice", d.NewVoice, "err", err)
		}
	}
	if d.TargetLanguageChanged {
		a.SetTargetLanguage(d.NewTargetLanguage)
	}
	if d.MinSilenceChanged {
		a.setMinSilence(d.NewMinSilence)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config reload: change takes effect after restart", "section", section)
	}
}

func (a *App) setMinSilence(d time.Duration) {
	a.settingsMu.Lock()
	a.minSilence = d
	a.settingsMu.Unlock()

	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess != nil && sess.running.Load() && sess.ready.Load() {
		p := sess.profiles.SetMinSilence(d)
		slog.Info("config reload: min silence applied", "session_id", sess.id, "min_silence", d, "version", p.Version)
		return
	}
	slog.Info("config reload: min silence updated", "min_silence", d)
}
