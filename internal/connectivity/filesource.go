package connectivity

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/fieldsync/internal/events"
)

// FileSource reads link state from a file maintained by the OS network
// dispatcher. The first word is "online" or "offline"; an optional second
// word is the link type:
//
//	online wifi
//	offline
//
// The parent directory is watched rather than the file itself so that
// writers replacing the file by rename are picked up.
type FileSource struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *events.Logger

	transitions chan bool
	done        chan struct{}
	wg          sync.WaitGroup

	mu       sync.Mutex
	online   bool
	linkType string
	known    bool
	closed   bool
}

// NewFileSource starts watching path. The current file content, if any, is
// delivered as the first transition.
func NewFileSource(path string, logger *events.Logger) (*FileSource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch link state directory %s: %w", dir, err)
	}

	fs := &FileSource{
		path:        filepath.Clean(path),
		watcher:     watcher,
		logger:      logger.WithField("component", "link_state_file"),
		transitions: make(chan bool, 16),
		done:        make(chan struct{}),
	}

	fs.reload()

	fs.wg.Add(1)
	go fs.processEvents()

	return fs, nil
}

// Transitions implements Source. The channel is closed by Close.
func (fs *FileSource) Transitions() <-chan bool {
	return fs.transitions
}

// LinkType implements LinkHinter.
func (fs *FileSource) LinkType() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.linkType
}

// Close stops watching and closes the transitions channel.
func (fs *FileSource) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	fs.mu.Unlock()

	close(fs.done)
	err := fs.watcher.Close()
	fs.wg.Wait()
	close(fs.transitions)

	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

func (fs *FileSource) processEvents() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				fs.reload()
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.WithError(err).Warn("Link state watcher error")
		}
	}
}

// reload parses the file and emits a transition when the online flag changes.
func (fs *FileSource) reload() {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.WithError(err).Warn("Failed to read link state file")
		}
		return
	}

	online, linkType, ok := parseLinkState(data)
	if !ok {
		fs.logger.WithField("content", strings.TrimSpace(string(data))).Debug("Ignoring unparseable link state")
		return
	}

	fs.mu.Lock()
	changed := !fs.known || fs.online != online
	fs.online = online
	fs.linkType = linkType
	fs.known = true
	fs.mu.Unlock()

	if !changed {
		return
	}

	select {
	case fs.transitions <- online:
	case <-fs.done:
	}
}

func parseLinkState(data []byte) (online bool, linkType string, ok bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		return false, "", false
	}

	fields := strings.Fields(strings.ToLower(scanner.Text()))
	if len(fields) == 0 {
		return false, "", false
	}

	switch fields[0] {
	case "online", "up", "connected":
		online = true
	case "offline", "down", "disconnected":
		online = false
	default:
		return false, "", false
	}

	if len(fields) > 1 {
		linkType = fields[1]
	}
	return online, linkType, true
}
