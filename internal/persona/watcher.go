package persona

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	logx "github.com/personacast/server/pkg/logger"
)

// Watcher keeps the registry in sync with the persona directory: a written
// or created document is re-parsed and installed, a deleted document drops
// its persona. Malformed writes are logged and the previously loaded spec
// stays visible until a valid document replaces it.
type Watcher struct {
	registry *Registry
	fw       *fsnotify.Watcher
}

// NewWatcher starts watching the registry's directory. The caller must run
// the returned watcher with Run, which also releases the handle on exit.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create persona watcher: %w", err)
	}
	if err := fw.Add(registry.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch persona dir %q: %w", registry.dir, err)
	}
	return &Watcher{registry: registry, fw: fw}, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log := logx.Component("persona")
	defer w.fw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event, log)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Persona watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, log zerolog.Logger) {
	if !isPersonaFile(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		if id, ok := w.registry.idForPath(event.Name); ok {
			w.registry.remove(id)
			log.Info().Str("id", id).Str("path", event.Name).Msg("Persona document removed")
		}

	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		spec, err := w.registry.loadValid(event.Name)
		if err != nil {
			// Editors often write partial content first; keep serving the
			// last good spec and wait for a parseable write.
			log.Warn().Err(err).Str("path", event.Name).Msg("Ignoring unparseable persona write")
			return
		}
		w.registry.set(spec, event.Name)
		log.Info().Str("id", spec.ID).Str("path", event.Name).Msg("Persona hot-reloaded")
	}
}
