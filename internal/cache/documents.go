package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Namespaces used by the page fetcher.
const (
	NamespaceRobots  = "robots"
	NamespaceContent = "content"
)

// DocumentTTL is the freshness window associated with document entries.
// The store itself never evicts; readers compare it against the timestamp
// they keep inside their values.
const DocumentTTL = 12 * time.Hour

// Documents is a key/value store persisted as one flat JSON object per
// namespace. Each namespace lives in "<name>-cache.json" inside the store
// directory. Saves rewrite the whole file and are debounced.
type Documents struct {
	dir string

	mu     sync.Mutex
	spaces map[string]*namespace

	flusher *Debouncer
}

type namespace struct {
	path  string
	data  map[string]json.RawMessage
	dirty bool
}

// OpenDocuments loads the given namespaces from dir. Missing or malformed
// files load as empty namespaces.
func OpenDocuments(dir string, interval time.Duration, names ...string) *Documents {
	d := &Documents{
		dir:    dir,
		spaces: make(map[string]*namespace, len(names)),
	}
	for _, name := range names {
		ns := &namespace{path: filepath.Join(dir, name+"-cache.json")}
		ns.data = loadDocument(ns.path)
		d.spaces[name] = ns
	}
	d.flusher = NewDebouncer("documents", interval, d.save)
	return d
}

func loadDocument(path string) map[string]json.RawMessage {
	data := make(map[string]json.RawMessage)

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return data
	}
	if err != nil {
		log.Warn("Could not read cache document, starting empty", "path", path, "err", err)
		return data
	}
	if err := json.Unmarshal(b, &data); err != nil {
		log.Warn("Malformed cache document, starting empty", "path", path, "err", err)
		return make(map[string]json.RawMessage)
	}
	return data
}

// Get decodes the value stored under key into v.
func (d *Documents) Get(name, key string, v any) (bool, error) {
	d.mu.Lock()
	ns, err := d.namespace(name)
	if err != nil {
		d.mu.Unlock()
		return false, err
	}
	raw, ok := ns.data[key]
	d.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", name, key, err)
	}
	return true, nil
}

// Set stores v under key and schedules a save.
func (d *Documents) Set(name, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", name, key, err)
	}

	d.mu.Lock()
	ns, err := d.namespace(name)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	ns.data[key] = raw
	ns.dirty = true
	d.mu.Unlock()

	d.flusher.Mark()
	return nil
}

// Delete removes key and schedules a save.
func (d *Documents) Delete(name, key string) error {
	d.mu.Lock()
	ns, err := d.namespace(name)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if _, ok := ns.data[key]; !ok {
		d.mu.Unlock()
		return nil
	}
	delete(ns.data, key)
	ns.dirty = true
	d.mu.Unlock()

	d.flusher.Mark()
	return nil
}

// Keys returns the sorted keys of a namespace.
func (d *Documents) Keys(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns, ok := d.spaces[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(ns.data))
	for k := range ns.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush saves dirty namespaces now.
func (d *Documents) Flush() error {
	return d.flusher.Flush()
}

// Close saves dirty namespaces and stops scheduling saves.
func (d *Documents) Close() error {
	return d.flusher.Close()
}

func (d *Documents) namespace(name string) (*namespace, error) {
	ns, ok := d.spaces[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache namespace %q", name)
	}
	return ns, nil
}

// save snapshots the dirty namespaces under the lock and writes them
// outside it. Namespaces that fail to save are marked dirty again.
func (d *Documents) save() error {
	type snapshot struct {
		ns   *namespace
		body []byte
	}

	d.mu.Lock()
	var snaps []snapshot
	for name, ns := range d.spaces {
		if !ns.dirty {
			continue
		}
		body, err := json.MarshalIndent(ns.data, "", "  ")
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("encode namespace %s: %w", name, err)
		}
		ns.dirty = false
		snaps = append(snaps, snapshot{ns: ns, body: body})
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range snaps {
		if err := writeFileAtomic(s.ns.path, s.body); err != nil {
			d.mu.Lock()
			s.ns.dirty = true
			d.mu.Unlock()
			errs = append(errs, fmt.Errorf("save %s: %w", s.ns.path, err))
		}
	}
	return errors.Join(errs...)
}

// writeFileAtomic writes to a temp file first, then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
