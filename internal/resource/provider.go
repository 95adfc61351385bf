// Package resource hands out the raster buffers tiles are painted into.
//
// Each resource is one tile-sized RGBA image. A GPU-path task maps the
// resource directly and paints in place. A CPU-path task gets a scratch image
// from a free list; on release the scratch image is copied over the resource
// and returned to the free list.
package resource

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/vk/rastersched/internal/task"
	xdraw "golang.org/x/image/draw"
)

// Format is the pixel format of every buffer the provider hands out.
const Format = "RGBA8"

// Target names how a buffer is mapped.
type Target string

const (
	// TargetDirect is a buffer mapped straight onto the resource.
	TargetDirect Target = "direct"
	// TargetImage is an image-backed scratch buffer copied back on release.
	TargetImage Target = "image"
)

var (
	// ErrAlreadyAcquired is returned when a task acquires twice.
	ErrAlreadyAcquired = errors.New("buffer already acquired")
	// ErrNotAcquired is returned when a task releases a buffer it does not hold.
	ErrNotAcquired = errors.New("buffer not acquired")
	// ErrResourceBusy is returned when another task holds the same resource.
	ErrResourceBusy = errors.New("resource held by another task")
	// ErrExhausted is returned when the lease limit is reached.
	ErrExhausted = errors.New("no free raster buffers")
)

type lease struct {
	res    task.ResourceID
	target Target
	buf    *image.RGBA
}

// Stats counts provider activity.
type Stats struct {
	Acquired    int
	Released    int
	Outstanding int
	Resources   int
}

// Provider implements the acquire/release broker contract. It is safe for
// concurrent use, although the scheduler only calls it from the origin
// goroutine.
type Provider struct {
	mu       sync.Mutex
	tileSize int
	maxLease int

	leases    map[*task.Task]lease
	busy      map[task.ResourceID]*task.Task
	resources map[task.ResourceID]*image.RGBA
	free      []*image.RGBA

	acquired int
	released int
}

// Option configures a Provider.
type Option func(*Provider)

// WithMaxLeases caps the number of buffers held at once. Zero means no cap.
func WithMaxLeases(n int) Option {
	return func(p *Provider) { p.maxLease = n }
}

// NewProvider returns a provider for square tiles of the given edge length.
func NewProvider(tileSize int, opts ...Option) *Provider {
	p := &Provider{
		tileSize:  tileSize,
		leases:    make(map[*task.Task]lease),
		busy:      make(map[task.ResourceID]*task.Task),
		resources: make(map[task.ResourceID]*image.RGBA),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Format returns the pixel format of the provider's buffers.
func (p *Provider) Format() string { return Format }

// Target returns how a buffer for the given path is mapped.
func (p *Provider) Target(gpu bool) Target {
	if gpu {
		return TargetDirect
	}
	return TargetImage
}

// TileSize returns the edge length of every buffer.
func (p *Provider) TileSize() int { return p.tileSize }

// Acquire maps a buffer for t. The caller owns it exclusively until Release.
func (p *Provider) Acquire(t *task.Task) (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.leases[t]; ok {
		return nil, fmt.Errorf("%s: %w", t, ErrAlreadyAcquired)
	}
	res := t.Resource()
	if holder, ok := p.busy[res]; ok {
		return nil, fmt.Errorf("%s: resource %d held by %s: %w", t, res, holder, ErrResourceBusy)
	}
	if p.maxLease > 0 && len(p.leases) >= p.maxLease {
		return nil, fmt.Errorf("%s: %d leases outstanding: %w", t, len(p.leases), ErrExhausted)
	}

	l := lease{res: res, target: p.Target(t.UsesGPU())}
	switch l.target {
	case TargetDirect:
		l.buf = p.resource(res)
	default:
		l.buf = p.scratch()
	}
	p.leases[t] = l
	p.busy[res] = t
	p.acquired++
	return l.buf, nil
}

// Release unmaps the buffer held by t. Image-backed buffers are copied onto
// the resource first.
func (p *Provider) Release(t *task.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.leases[t]
	if !ok {
		return fmt.Errorf("%s: %w", t, ErrNotAcquired)
	}
	delete(p.leases, t)
	delete(p.busy, l.res)
	p.released++

	if l.target == TargetImage {
		dst := p.resource(l.res)
		xdraw.Copy(dst, image.Point{}, l.buf, l.buf.Bounds(), xdraw.Src, nil)
		p.free = append(p.free, l.buf)
	}
	return nil
}

// Snapshot returns a copy of the resource's current contents, or nil if
// nothing was ever painted into it.
func (p *Provider) Snapshot(res task.ResourceID) *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.resources[res]
	if !ok {
		return nil
	}
	out := image.NewRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}

// Resources returns the ids of every resource that exists, in ascending order.
func (p *Provider) Resources() []task.ResourceID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]task.ResourceID, 0, len(p.resources))
	for id := range p.resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns the current counts.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Acquired:    p.acquired,
		Released:    p.released,
		Outstanding: len(p.leases),
		Resources:   len(p.resources),
	}
}

func (p *Provider) resource(res task.ResourceID) *image.RGBA {
	img, ok := p.resources[res]
	if !ok {
		img = image.NewRGBA(image.Rect(0, 0, p.tileSize, p.tileSize))
		p.resources[res] = img
	}
	return img
}

// scratch pops a cleared buffer off the free list or allocates one.
func (p *Provider) scratch() *image.RGBA {
	n := len(p.free)
	if n == 0 {
		return image.NewRGBA(image.Rect(0, 0, p.tileSize, p.tileSize))
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	clear(buf.Pix)
	return buf
}
