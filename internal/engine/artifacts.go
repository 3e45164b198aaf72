package engine

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hanpama/computed/internal/affected"
	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
)

// Artifact is everything derived from analyzing one expression.
type Artifact struct {
	Key      string
	Result   *analysis.Result
	Affected affected.Provider
	Original *analysis.Getter
	Current  *analysis.Getter
}

// Artifacts memoizes analysis per structural expression key. The first
// caller for a key does the work; concurrent callers for the same key wait
// for it, callers for other keys do not.
type Artifacts struct {
	group singleflight.Group
	cache sync.Map // key -> *Artifact
}

func NewArtifacts() *Artifacts { return &Artifacts{} }

func (a *Artifacts) Get(fn *expr.Lambda) (*Artifact, error) {
	key := expr.Key(fn)
	if v, ok := a.cache.Load(key); ok {
		return v.(*Artifact), nil
	}
	v, err, _ := a.group.Do(key, func() (any, error) {
		if v, ok := a.cache.Load(key); ok {
			return v, nil
		}
		res, err := analysis.Analyze(fn)
		if err != nil {
			return nil, err
		}
		provider, err := affected.Build(res.Graph)
		if err != nil {
			return nil, err
		}
		art := &Artifact{
			Key:      key,
			Result:   res,
			Affected: provider,
			Original: res.ValueGetter(analysis.Original),
			Current:  res.ValueGetter(analysis.Current),
		}
		a.cache.Store(key, art)
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Len returns the number of cached artifacts.
func (a *Artifacts) Len() int {
	n := 0
	a.cache.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
