package cookie

import (
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
)

// Options configures a Mirror.
type Options struct {
	Jar       http.CookieJar
	URL       *url.URL               // storefront origin the cookies belong to
	MaxAge    time.Duration          // 30 days when zero
	SizeLimit int                    // name=value ceiling per cookie; 4096 when zero
	Interval  time.Duration          // periodic rewrite; 30s when zero
	Source    func() domain.Snapshot // current state for focus, visibility and timer rewrites
}

// Mirror keeps the cookie projection of one tab current. Writes whose
// content hash did not change since the last write are skipped; payloads
// over the size ceiling are skipped entirely.
type Mirror struct {
	opts Options

	mu     sync.Mutex
	hashes map[string]uint64

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewMirror creates a mirror writing into opts.Jar.
func NewMirror(opts Options) *Mirror {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	if opts.SizeLimit <= 0 {
		opts.SizeLimit = 4096
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Mirror{
		opts:   opts,
		hashes: make(map[string]uint64),
		stop:   make(chan struct{}),
	}
}

// Update re-serializes snap. It satisfies state.Mirror.
func (m *Mirror) Update(snap domain.Snapshot) {
	values, err := Encode(snap)
	if err != nil {
		logging.Op().Warn("cookie projection failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m.writeLocked(name, values[name])
	}
}

func (m *Mirror) writeLocked(name, value string) {
	sum := xxh3.HashString(value)
	if prev, ok := m.hashes[name]; ok && prev == sum {
		metrics.Global().RecordCookie(name, "unchanged")
		return
	}
	if size := len(name) + 1 + len(value); size > m.opts.SizeLimit {
		logging.Op().Warn("cookie over size limit, write skipped",
			"cookie", name, "bytes", size, "limit", m.opts.SizeLimit)
		metrics.Global().RecordCookie(name, "oversize")
		return
	}
	if m.opts.Jar != nil && m.opts.URL != nil {
		m.opts.Jar.SetCookies(m.opts.URL, []*http.Cookie{newCookie(name, value, m.opts.MaxAge)})
	}
	m.hashes[name] = sum
	metrics.Global().RecordCookie(name, "written")
}

func newCookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		SameSite: http.SameSiteLaxMode,
	}
}

// refresh rewrites from the configured source.
func (m *Mirror) refresh() {
	if m.opts.Source == nil {
		return
	}
	m.Update(m.opts.Source())
}

// Focus handles the window regaining focus.
func (m *Mirror) Focus() { m.refresh() }

// Visible handles the document becoming visible again.
func (m *Mirror) Visible() { m.refresh() }

// Start rewrites the cookies every interval until Stop.
func (m *Mirror) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.refresh()
			}
		}
	}()
}

// Stop ends periodic rewriting. It is safe to call more than once.
func (m *Mirror) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Jar returns the jar the mirror writes into.
func (m *Mirror) Jar() http.CookieJar { return m.opts.Jar }

// WriteResponse emits the projection of snap as Set-Cookie headers.
// Oversize cookies are left out.
func WriteResponse(w http.ResponseWriter, snap domain.Snapshot, maxAge time.Duration, sizeLimit int) {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if sizeLimit <= 0 {
		sizeLimit = 4096
	}
	values, err := Encode(snap)
	if err != nil {
		logging.Op().Warn("cookie projection failed", "error", err)
		return
	}
	for _, name := range []string{CartCookie, BookmarksCookie} {
		value := values[name]
		if len(name)+1+len(value) > sizeLimit {
			metrics.Global().RecordCookie(name, "oversize")
			continue
		}
		http.SetCookie(w, newCookie(name, value, maxAge))
	}
}
