// Package watch decides when the selected job's log file should be re-read.
//
// Two independent producers feed one channel: fsnotify events on the log's
// directory, and a fallback ticker for filesystems where notifications are
// missing or unreliable. Reads are incremental, so a redundant trigger costs
// nothing; the only filtering is coalescing event bursts to one per frame.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"

	"github.com/osteele/slurm-jobs/internal/logging"
)

const (
	// DefaultInterval is the fallback polling period
	DefaultInterval = 2 * time.Second
	// frame is the coalescing window for notification bursts
	frame = 16 * time.Millisecond
	// maxWait bounds how long a continuous burst can defer a trigger
	maxWait = 100 * time.Millisecond
)

// Source identifies the producer of a trigger
type Source int

const (
	SourceTimer Source = iota
	SourceNotify
)

func (s Source) String() string {
	if s == SourceNotify {
		return "notify"
	}
	return "timer"
}

// Trigger asks the consumer to read the watched file. Gen is the generation
// of the Watch call it belongs to; consumers drop triggers from older
// generations.
type Trigger struct {
	Gen    uint64
	Source Source
	Err    error // notification subsystem failure; the timer keeps running
}

// Options configures a Multiplexer
type Options struct {
	Interval time.Duration
	Logger   logging.Logger
	// DisableNotify skips fsnotify and relies on the timer alone
	DisableNotify bool
}

// Multiplexer merges file notifications and a timer into one trigger stream
type Multiplexer struct {
	mu         sync.Mutex
	path       string
	dir        string
	dirWatched bool
	gen        uint64

	fs           *fsnotify.Watcher
	notify       func()
	cancelNotify func()

	out       chan Trigger
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       logging.Logger
}

// New starts a multiplexer with nothing watched
func New(opts Options) *Multiplexer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	m := &Multiplexer{
		out:  make(chan Trigger, 1),
		stop: make(chan struct{}),
		log:  opts.Logger,
	}
	m.notify, m.cancelNotify = debounce.NewWithMaxWait(frame, maxWait, func() {
		m.send(SourceNotify, nil)
	})

	if !opts.DisableNotify {
		fs, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("file notifications unavailable, polling only", "err", err)
			m.send(SourceTimer, fmt.Errorf("file notifications unavailable: %w", err))
		} else {
			m.fs = fs
			m.wg.Add(1)
			go m.handleEvents()
		}
	}

	m.wg.Add(1)
	go m.tick(opts.Interval)
	return m
}

// C returns the trigger channel. It has capacity 1; a trigger is dropped
// when one is already pending.
func (m *Multiplexer) C() <-chan Trigger {
	return m.out
}

// Gen returns the current generation
func (m *Multiplexer) Gen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Path returns the watched file, or "" when paused
func (m *Multiplexer) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Watch switches to a new file and returns the new generation.
// An empty path pauses triggering until the next Watch.
func (m *Multiplexer) Watch(path string) uint64 {
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++

	dir := ""
	if path != "" {
		dir = filepath.Dir(path)
	}
	if m.dirWatched && dir != m.dir {
		if err := m.fs.Remove(m.dir); err != nil {
			m.log.Debug("unwatch directory", "dir", m.dir, "err", err)
		}
		m.dirWatched = false
	}
	m.path = path
	m.dir = dir
	m.addDirLocked()

	// a pending trigger belongs to the old file
	select {
	case <-m.out:
	default:
	}
	return m.gen
}

// addDirLocked subscribes to the current directory if it is not already.
// The directory may not exist until the job starts, so this is retried on
// every tick.
func (m *Multiplexer) addDirLocked() {
	if m.fs == nil || m.dir == "" {
		return
	}
	if m.dirWatched && !m.watchingDirLocked() {
		// the directory was removed; the kernel dropped its watch
		m.log.Debug("directory watch lost", "dir", m.dir)
		m.dirWatched = false
	}
	if m.dirWatched {
		return
	}
	if err := m.fs.Add(m.dir); err != nil {
		m.log.Debug("watch directory", "dir", m.dir, "err", err)
		return
	}
	m.dirWatched = true
}

func (m *Multiplexer) watchingDirLocked() bool {
	for _, name := range m.fs.WatchList() {
		if filepath.Clean(name) == m.dir {
			return true
		}
	}
	return false
}

// Close stops both producers and releases the notification watcher.
// The trigger channel is left open.
func (m *Multiplexer) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		m.cancelNotify()
		if m.fs != nil {
			if cerr := m.fs.Close(); cerr != nil {
				err = fmt.Errorf("close file watcher: %w", cerr)
			}
		}
		m.wg.Wait()
	})
	return err
}

func (m *Multiplexer) tick(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.addDirLocked()
			m.mu.Unlock()
			m.send(SourceTimer, nil)
		}
	}
}

func (m *Multiplexer) handleEvents() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			name := filepath.Clean(event.Name)
			m.mu.Lock()
			if name == m.dir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				m.dirWatched = false
			}
			match := m.path != "" && name == m.path
			m.mu.Unlock()
			if match {
				m.notify()
			}
		case err, ok := <-m.fs.Errors:
			if !ok {
				return
			}
			m.log.Warn("file watcher error", "err", err)
			m.send(SourceNotify, fmt.Errorf("file watcher: %w", err))
		}
	}
}

func (m *Multiplexer) send(src Source, err error) {
	select {
	case <-m.stop:
		return
	default:
	}
	// held across the send so Watch cannot drain the channel in between
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" && err == nil {
		return
	}
	select {
	case m.out <- Trigger{Gen: m.gen, Source: src, Err: err}:
	default:
	}
}
