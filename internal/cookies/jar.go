package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/btouchard/cookiejar/internal/pattern"
)

// FileJar keeps cookies in a JSON file. Writes are atomic renames so a
// concurrent reader never sees a partial file.
type FileJar struct {
	path string
	now  func() time.Time
	read func(path string) ([]Cookie, error)

	mu      sync.Mutex
	cookies []Cookie

	listenMu  sync.RWMutex
	listeners map[int]func(Change)
	nextID    int
}

// OpenFileJar loads the jar at path. A missing file is an empty jar.
func OpenFileJar(path string) (*FileJar, error) {
	j := &FileJar{
		path:      path,
		now:       time.Now,
		read:      readJar,
		listeners: make(map[int]func(Change)),
	}
	cookies, err := readJar(path)
	if err != nil {
		return nil, err
	}
	j.cookies = cookies
	return j, nil
}

// Path returns the jar file path.
func (j *FileJar) Path() string {
	return j.path
}

// ListForOrigins returns the cookies whose domain is covered by any of
// the origin patterns, subdomains included.
func (j *FileJar) ListForOrigins(_ context.Context, origins []string) ([]Cookie, error) {
	patterns := pattern.Compile(origins)
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	out := []Cookie{}
	for _, c := range j.cookies {
		if c.Expired(now) {
			continue
		}
		for _, p := range patterns {
			if p.Covers(c.Domain) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// CountForOrigin returns how many cookies belong to origin.
func (j *FileJar) CountForOrigin(ctx context.Context, origin string) (int, error) {
	list, err := j.ListForOrigins(ctx, []string{origin})
	return len(list), err
}

// SetCookie stores c, replacing any cookie with the same key, and returns
// the stored cookie.
func (j *FileJar) SetCookie(_ context.Context, c Cookie) (Cookie, error) {
	if err := c.validate(j.now()); err != nil {
		return Cookie{}, err
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.Session = c.ExpirationDate <= 0

	var changes []Change
	j.mu.Lock()
	next := slices.Clone(j.cookies)
	idx := slices.IndexFunc(next, func(o Cookie) bool { return o.Key() == c.Key() })
	if idx >= 0 {
		changes = append(changes, Change{Cookie: next[idx], Removed: true, Cause: CauseOverwrite})
		next[idx] = c
	} else {
		next = append(next, c)
	}
	if err := writeJar(j.path, next); err != nil {
		j.mu.Unlock()
		return Cookie{}, err
	}
	j.cookies = next
	j.mu.Unlock()

	changes = append(changes, Change{Cookie: c, Cause: CauseExplicit})
	j.emit(changes)
	return c, nil
}

// Remove deletes the cookie with key k. Removing an absent cookie is a no-op.
func (j *FileJar) Remove(_ context.Context, k Key) error {
	j.mu.Lock()
	idx := slices.IndexFunc(j.cookies, func(o Cookie) bool { return o.Key() == k })
	if idx < 0 {
		j.mu.Unlock()
		return nil
	}
	removed := j.cookies[idx]
	next := slices.Delete(slices.Clone(j.cookies), idx, idx+1)
	if err := writeJar(j.path, next); err != nil {
		j.mu.Unlock()
		return err
	}
	j.cookies = next
	j.mu.Unlock()

	j.emit([]Change{{Cookie: removed, Removed: true, Cause: CauseExplicit}})
	return nil
}

// PurgeExpired drops expired cookies and reports them with CauseExpired.
func (j *FileJar) PurgeExpired(_ context.Context) (int, error) {
	now := j.now()

	j.mu.Lock()
	var kept []Cookie
	var changes []Change
	for _, c := range j.cookies {
		if c.Expired(now) {
			changes = append(changes, Change{Cookie: c, Removed: true, Cause: CauseExpired})
			continue
		}
		kept = append(kept, c)
	}
	if len(changes) == 0 {
		j.mu.Unlock()
		return 0, nil
	}
	if err := writeJar(j.path, kept); err != nil {
		j.mu.Unlock()
		return 0, err
	}
	j.cookies = kept
	j.mu.Unlock()

	j.emit(changes)
	return len(changes), nil
}

// Listen registers fn for change notifications and returns a function
// that removes it. Calling the returned function twice is harmless.
func (j *FileJar) Listen(fn func(Change)) (cancel func()) {
	j.listenMu.Lock()
	id := j.nextID
	j.nextID++
	j.listeners[id] = fn
	j.listenMu.Unlock()

	return func() {
		j.listenMu.Lock()
		delete(j.listeners, id)
		j.listenMu.Unlock()
	}
}

func (j *FileJar) emit(changes []Change) {
	j.listenMu.RLock()
	fns := make([]func(Change), 0, len(j.listeners))
	for _, fn := range j.listeners {
		fns = append(fns, fn)
	}
	j.listenMu.RUnlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}

// reload re-reads the file after an external write and reports the
// difference against the in-memory view. The read happens under mu so a
// local write cannot land between the read and the swap.
func (j *FileJar) reload() error {
	now := j.now()

	j.mu.Lock()
	fresh, err := j.read(j.path)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	changes := diff(j.cookies, fresh, now)
	j.cookies = fresh
	j.mu.Unlock()

	if len(changes) > 0 {
		slog.Debug("cookie jar changed on disk", "path", j.path, "changes", len(changes))
	}
	j.emit(changes)
	return nil
}

func diff(before, after []Cookie, now time.Time) []Change {
	old := make(map[Key]Cookie, len(before))
	for _, c := range before {
		old[c.Key()] = c
	}

	var changes []Change
	for _, c := range after {
		prev, ok := old[c.Key()]
		delete(old, c.Key())
		if ok && prev == c {
			continue
		}
		if ok {
			cause := CauseOverwrite
			if prev.Expired(now) {
				cause = CauseExpiredOverwrite
			}
			changes = append(changes, Change{Cookie: prev, Removed: true, Cause: cause})
		}
		changes = append(changes, Change{Cookie: c, Cause: CauseExplicit})
	}
	for _, c := range before {
		if _, remaining := old[c.Key()]; !remaining {
			continue
		}
		cause := CauseExplicit
		if c.Expired(now) {
			cause = CauseExpired
		}
		changes = append(changes, Change{Cookie: c, Removed: true, Cause: cause})
	}
	return changes
}

func readJar(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cookie jar: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parsing cookie jar %s: %w", path, err)
	}
	return cookies, nil
}

func writeJar(path string, cookies []Cookie) error {
	if cookies == nil {
		cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cookie jar: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating cookie jar directory: %w", err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("writing cookie jar: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
