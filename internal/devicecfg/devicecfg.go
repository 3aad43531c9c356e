// Package devicecfg hot-reloads a JSON device/tag seed file, giving
// deployments that provision devices via configuration management (rather
// than the HTTP admin endpoint) a way to push changes without a restart:
// drop an updated file at the configured path and the running supervisor
// picks it up.
package devicecfg

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// tagSeed mirrors the HTTP admin bulk-register request shape so the same
// file can be handed to either path.
type tagSeed struct {
	Channel          string `json:"channel"`
	Address          uint16 `json:"address"`
	UnitID           byte   `json:"unit_id"`
	DataType         string `json:"data_type"`
	ReadAmount       int    `json:"read_amount"`
	HistoryInterval  int64  `json:"history_interval_seconds"`
	HistoryRetention int64  `json:"history_retention_seconds"`
}

type deviceSeed struct {
	Alias     string    `json:"alias"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	WordOrder string    `json:"word_order"`
	Tags      []tagSeed `json:"tags"`
}

// Watcher applies path's contents to the database on startup and again
// every time the file changes on disk.
type Watcher struct {
	path string
	db   *database.DB
	log  zerolog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// New applies the file once synchronously, then starts watching path. A
// file that cannot be read or parsed, and any device or tag the database
// rejects, is logged rather than returned; New returns an error only when
// the file watcher cannot be set up.
func New(path string, db *database.DB, log zerolog.Logger) (*Watcher, error) {
	w := &Watcher{path: path, db: db, log: log}

	w.apply(context.Background())

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)

	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleApply(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("device config watcher error")
		}
	}
}

// scheduleApply debounces rapid successive write events (editors often
// write a file in more than one syscall) into a single reload 200ms later.
func (w *Watcher) scheduleApply(ctx context.Context) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(200*time.Millisecond, func() { w.apply(ctx) })
}

func (w *Watcher) apply(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn().Err(err).Str("path", w.path).Msg("failed to read device config")
		}
		return
	}

	var seeds []deviceSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("failed to parse device config")
		return
	}

	devices, tags := 0, 0
	for _, s := range seeds {
		dev, err := w.db.UpsertDevice(ctx, database.Device{
			Alias:     s.Alias,
			Host:      s.Host,
			Port:      s.Port,
			Protocol:  protocolOrDefault(s.Protocol),
			WordOrder: wordOrderOrDefault(s.WordOrder),
			Active:    true,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("alias", s.Alias).Msg("failed to upsert device from config")
			continue
		}
		devices++

		for _, t := range s.Tags {
			_, err := w.db.UpsertTag(ctx, database.Tag{
				DeviceID:         dev.ID,
				Channel:          codec.Channel(t.Channel),
				Address:          t.Address,
				UnitID:           t.UnitID,
				DataType:         codec.DataType(t.DataType),
				ReadAmount:       t.ReadAmount,
				HistoryInterval:  time.Duration(t.HistoryInterval) * time.Second,
				HistoryRetention: time.Duration(t.HistoryRetention) * time.Second,
				Active:           true,
			})
			if err != nil {
				w.log.Warn().Err(err).Str("device", s.Alias).Msg("failed to upsert tag from config")
				continue
			}
			tags++
		}
	}

	w.log.Info().Int("devices", devices).Int("tags", tags).Msg("device config applied")
}

func protocolOrDefault(s string) transport.Protocol {
	if s == "" {
		return transport.TCP
	}
	return transport.Protocol(s)
}

func wordOrderOrDefault(s string) codec.WordOrder {
	if s == "" {
		return codec.BigEndianWords
	}
	return codec.WordOrder(s)
}

// Close stops the watcher. Safe to call once.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
