package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads path whenever it changes and passes the new configuration to
// onChange. Invalid files are logged and ignored so a bad edit never replaces
// a working configuration. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *logrus.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = logrus.New()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).WithField("path", path).Warn("Ignoring invalid configuration change")
				continue
			}
			logger.WithField("path", path).Info("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}

// ParseLogLevel maps a configured level to logrus, defaulting to info.
func ParseLogLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
