package normalize

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/width"

	"github.com/propwatch/ingest-cli/internal/model"
)

// DimensionStore is the persistence surface for dimension lookup-or-create.
// Implementations must be idempotent and concurrent-safe: insert under a
// unique natural-key constraint, return the existing row on conflict.
type DimensionStore interface {
	EnsurePropertyType(ctx context.Context, code, name string) (int64, error)
	EnsureTradeType(ctx context.Context, code, name string) (int64, error)
	EnsureRegion(ctx context.Context, code, name string) (int64, error)
	EnsureFacility(ctx context.Context, code, name string) (int64, error)
	ListRegions(ctx context.Context) ([]model.Region, error)
}

// NormalizeKey folds a natural key to its canonical form: full-width
// characters narrowed, whitespace trimmed, lowercased. Upstream payloads
// mix full-width and ASCII digits in business identifiers.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(width.Narrow.String(s)))
}

// Resolver caches dimension ids per crawl cycle and performs geographic
// region inference against bounding boxes.
type Resolver struct {
	store  DimensionStore
	policy Policy

	mu      sync.Mutex
	cache   map[string]int64 // "kind:code" -> dimension id
	regions []regionBox
	loaded  bool
}

type regionBox struct {
	id     int64
	code   string
	bounds *geom.Bounds
}

// NewResolver creates a dimension resolver over the given store.
func NewResolver(store DimensionStore, policy Policy) *Resolver {
	return &Resolver{
		store:  store,
		policy: policy,
		cache:  make(map[string]int64),
	}
}

func (r *Resolver) ensure(ctx context.Context, kind, code, name string,
	fn func(context.Context, string, string) (int64, error)) (int64, error) {

	code = NormalizeKey(code)
	if code == "" {
		code = model.UnclassifiedCode
	}
	key := kind + ":" + code

	r.mu.Lock()
	if id, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	if name == "" {
		name = code
	}
	id, err := fn(ctx, code, name)
	if err != nil {
		return 0, eris.Wrapf(err, "normalize: ensure %s %q", kind, code)
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()
	return id, nil
}

// PropertyType resolves (creating if absent) a property-type dimension id.
func (r *Resolver) PropertyType(ctx context.Context, code string) (int64, error) {
	return r.ensure(ctx, "property_type", code, "", r.store.EnsurePropertyType)
}

// TradeType resolves (creating if absent) a trade-type dimension id.
func (r *Resolver) TradeType(ctx context.Context, code string) (int64, error) {
	return r.ensure(ctx, "trade_type", code, "", r.store.EnsureTradeType)
}

// Region resolves (creating if absent) a region dimension id by code.
func (r *Resolver) Region(ctx context.Context, code string) (int64, error) {
	return r.ensure(ctx, "region", code, "", r.store.EnsureRegion)
}

// Facility resolves (creating if absent) a facility dimension id.
func (r *Resolver) Facility(ctx context.Context, code, name string) (int64, error) {
	return r.ensure(ctx, "facility", code, name, r.store.EnsureFacility)
}

// RegionFromPoint returns the id of the first known region whose bounding
// box contains the coordinate, or false when none does.
func (r *Resolver) RegionFromPoint(ctx context.Context, lat, lon float64) (int64, bool, error) {
	if err := r.loadRegions(ctx); err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rb := range r.regions {
		if rb.bounds.OverlapsPoint(geom.XY, geom.Coord{lon, lat}) {
			return rb.id, true, nil
		}
	}
	return 0, false, nil
}

// loadRegions builds the in-memory bbox index once per resolver lifetime.
// Policy overrides replace the persisted box for matching region codes.
func (r *Resolver) loadRegions(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	regions, err := r.store.ListRegions(ctx)
	if err != nil {
		return eris.Wrap(err, "normalize: list regions")
	}

	boxes := make([]regionBox, 0, len(regions))
	for _, reg := range regions {
		minLat, minLon, maxLat, maxLon := reg.MinLat, reg.MinLon, reg.MaxLat, reg.MaxLon
		if override, ok := r.policy.RegionBoxes[reg.Code]; ok {
			minLat, minLon, maxLat, maxLon = override[0], override[1], override[2], override[3]
		}
		if minLat == 0 && maxLat == 0 && minLon == 0 && maxLon == 0 {
			continue // boundaries not loaded for this region
		}
		bounds := geom.NewBounds(geom.XY)
		bounds.Set(minLon, minLat, maxLon, maxLat)
		boxes = append(boxes, regionBox{id: reg.ID, code: reg.Code, bounds: bounds})
	}

	r.mu.Lock()
	r.regions = boxes
	r.loaded = true
	r.mu.Unlock()
	return nil
}
