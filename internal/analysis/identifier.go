package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
)

// Default wavelength grid of the bundled library: 500..1800 nm, step 1.
const (
	WavelengthMin     = 500
	WavelengthMax     = 1800
	WavelengthStep    = 1
	DefaultAxisLength = (WavelengthMax-WavelengthMin)/WavelengthStep + 1 // 1301
)

const (
	DefaultTopK         = 5
	DefaultCosineWeight = 0.5
)

// Match is one ranked candidate for a query spectrum.
type Match struct {
	Rank         int     `json:"rank"`
	Substance    string  `json:"substance"`
	Score        float64 `json:"score"`
	CosineScore  float64 `json:"cosineScore"`
	PearsonScore float64 `json:"pearsonScore"`
}

// SyncResult reports how Sync obtained the library.
type SyncResult struct {
	Synced         bool   `json:"synced"`
	FromCache      bool   `json:"fromCache"`
	SubstanceCount int    `json:"substanceCount"`
	Version        string `json:"version"`
}

// LibraryCache persists the reference library between runs.
type LibraryCache interface {
	GetLibrary(ctx context.Context) (*models.ReferenceLibrary, error)
	SaveLibrary(ctx context.Context, lib *models.ReferenceLibrary) error
	ClearLibrary(ctx context.Context) error
}

// Identifier ranks query spectra against the reference library.
//
// A library with no substances is "loaded but not ready": it is kept (and
// cached) so Sync does not refetch it, while Identify returns no matches.
type Identifier struct {
	cache  LibraryCache
	source LibrarySource

	mu      sync.RWMutex
	library *models.ReferenceLibrary
	ready   bool

	syncGroup singleflight.Group
}

// NewIdentifier creates an Identifier backed by cache and source.
func NewIdentifier(cache LibraryCache, source LibrarySource) *Identifier {
	return &Identifier{cache: cache, source: source}
}

// Load installs lib in memory without touching the cache.
func (id *Identifier) Load(lib *models.ReferenceLibrary) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.library = lib
	id.ready = lib != nil && len(lib.Substances) > 0
}

// IsReady reports whether a non-empty library is loaded.
func (id *Identifier) IsReady() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.ready && id.library != nil
}

// IsLoaded reports whether any library, possibly empty, is loaded.
func (id *Identifier) IsLoaded() bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.library != nil
}

// SubstanceCount returns the number of substances in the loaded library.
func (id *Identifier) SubstanceCount() int {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.library == nil {
		return 0
	}
	return len(id.library.Substances)
}

// Version returns the loaded library's version, or "".
func (id *Identifier) Version() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.library == nil {
		return ""
	}
	return id.library.Version
}

// SubstanceNames lists the loaded substances in library order.
func (id *Identifier) SubstanceNames() []string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.library == nil {
		return []string{}
	}
	return id.library.SubstanceNames()
}

// AxisLength is the sample count a query must have: the library's axis
// length, else the first reference vector's length, else DefaultAxisLength.
func (id *Identifier) AxisLength() int {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return axisLength(id.library)
}

func axisLength(lib *models.ReferenceLibrary) int {
	if lib != nil {
		if n := len(lib.WavelengthAxis); n > 0 {
			return n
		}
		if len(lib.Substances) > 0 && len(lib.Substances[0].Data) > 0 {
			return len(lib.Substances[0].Data)
		}
	}
	return DefaultAxisLength
}

// Sync loads the library: from the cache when one is stored (even an empty
// one), otherwise by a single fetch from the source whose result is cached.
// Concurrent calls share one load.
func (id *Identifier) Sync(ctx context.Context) (SyncResult, error) {
	v, err, _ := id.syncGroup.Do("sync", func() (interface{}, error) {
		return id.sync(ctx)
	})
	if err != nil {
		return SyncResult{}, err
	}
	return v.(SyncResult), nil
}

func (id *Identifier) sync(ctx context.Context) (SyncResult, error) {
	cached, err := id.cache.GetLibrary(ctx)
	switch {
	case err == nil:
		id.Load(cached)
		logging.Info("Reference library loaded from cache", map[string]interface{}{
			"version":    cached.Version,
			"substances": len(cached.Substances),
		})
		return id.result(true, true), nil
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return SyncResult{}, err
	}

	if id.source == nil {
		return SyncResult{}, apperrors.Configuration("no reference library source configured")
	}
	lib, err := id.source.Fetch(ctx)
	if err != nil {
		logging.Error("Reference library fetch failed", err, map[string]interface{}{"source": id.source.Name()})
		return SyncResult{}, fmt.Errorf("fetch reference library from %s: %w", id.source.Name(), err)
	}

	if err := id.cache.SaveLibrary(ctx, lib); err != nil {
		return SyncResult{}, err
	}
	id.Load(lib)

	if len(lib.Substances) == 0 {
		logging.Warn("Reference library is empty; identification disabled", map[string]interface{}{
			"source":  id.source.Name(),
			"version": lib.Version,
		})
	} else {
		logging.Info("Reference library fetched", map[string]interface{}{
			"source":     id.source.Name(),
			"version":    lib.Version,
			"substances": len(lib.Substances),
		})
	}
	return id.result(true, false), nil
}

func (id *Identifier) result(synced, fromCache bool) SyncResult {
	return SyncResult{
		Synced:         synced,
		FromCache:      fromCache,
		SubstanceCount: id.SubstanceCount(),
		Version:        id.Version(),
	}
}

// ClearCache drops the cached library and unloads it from memory.
func (id *Identifier) ClearCache(ctx context.Context) error {
	if err := id.cache.ClearLibrary(ctx); err != nil {
		return err
	}
	id.Load(nil)
	logging.Info("Reference library cache cleared")
	return nil
}

// ValidateQuery reports why query cannot be identified, or nil.
func (id *Identifier) ValidateQuery(query []float64) error {
	if !id.IsReady() {
		return apperrors.Validation("reference library not loaded")
	}
	if want := id.AxisLength(); len(query) != want {
		return apperrors.Validation(fmt.Sprintf("invalid query length %d, expected %d", len(query), want))
	}
	return nil
}

// Identify ranks query with the default cosine weight.
func (id *Identifier) Identify(query []float64, topK int) []Match {
	return id.IdentifyWeighted(query, topK, DefaultCosineWeight)
}

// IdentifyWeighted scores every substance as w·cosine + (1−w)·pearson and
// returns at most topK matches by non-increasing score, ties kept in library
// order. It returns an empty slice when the library is not ready or the query
// length does not match the axis.
func (id *Identifier) IdentifyWeighted(query []float64, topK int, cosineWeight float64) []Match {
	id.mu.RLock()
	lib, ready := id.library, id.ready
	id.mu.RUnlock()

	if !ready || lib == nil || topK <= 0 {
		return []Match{}
	}
	if len(query) != axisLength(lib) {
		logging.Debug("Query length mismatch", map[string]interface{}{
			"got":  len(query),
			"want": axisLength(lib),
		})
		return []Match{}
	}

	pearsonWeight := 1 - cosineWeight
	results := make([]Match, 0, len(lib.Substances))
	for _, ref := range lib.Substances {
		cosine := CosineSimilarity(query, ref.Data)
		pearson := PearsonCorrelation(query, ref.Data)
		results = append(results, Match{
			Substance:    ref.Name,
			Score:        cosineWeight*cosine + pearsonWeight*pearson,
			CosineScore:  cosine,
			PearsonScore: pearson,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
