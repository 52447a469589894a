package scanner

import "github.com/fsnotify/fsnotify"

// fsWatcher adapts *fsnotify.Watcher to the small surface Watch needs,
// returning change paths as plain strings rather than fsnotify.Event so
// callers of Watch don't need to import fsnotify themselves.
type fsWatcher struct {
	w *fsnotify.Watcher
	events chan string
	errs chan error
	done chan struct{}
}

func newWatcher() (*fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fsWatcher{w: w, events: make(chan string), errs: make(chan error), done: make(chan struct{})}
	go fw.pump()
	return fw, nil
}

func (fw *fsWatcher) pump() {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				close(fw.events)
				return
			}
			select {
			case fw.events <- ev.Name:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				close(fw.errs)
				return
			}
			select {
			case fw.errs <- err:
			case <-fw.done:
				return
			}
		case <-fw.done:
			return
		}
	}
}

func (fw *fsWatcher) Add(path string) error { return fw.w.Add(path) }
func (fw *fsWatcher) Events() <-chan string { return fw.events }
func (fw *fsWatcher) Errors() <-chan error { return fw.errs }
func (fw *fsWatcher) Close() error {
	close(fw.done)
	return fw.w.Close()
}
