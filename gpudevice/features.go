// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpudevice

// Feature names, exactly as specified for the embedder boundary.
const (
	FeatureShaderF16      = "shader-f16"
	FeatureSubgroups      = "subgroups"
	FeatureSubgroupsF16   = "subgroups-f16"
	FeatureTimestampQuery = "timestamp-query"
)

// PreferredFeatures is the full set the core will request when an adapter
// supports them. Order is not significant; callers should request the
// intersection of this set with whatever the adapter actually advertises.
var PreferredFeatures = []string{
	FeatureShaderF16,
	FeatureSubgroups,
	FeatureSubgroupsF16,
	FeatureTimestampQuery,
}

// FeatureSet is a small set type over feature name strings. Adapters and
// devices return FeatureSet rather than []string so callers can query
// membership without building a map themselves.
type FeatureSet map[string]bool

// NewFeatureSet builds a FeatureSet from a list of feature names.
func NewFeatureSet(names ...string) FeatureSet {
	fs := make(FeatureSet, len(names))
	for _, n := range names {
		fs[n] = true
	}
	return fs
}

// Has reports whether the named feature is present.
func (fs FeatureSet) Has(name string) bool {
	return fs[name]
}

// Intersect returns the features present in both sets.
func (fs FeatureSet) Intersect(other FeatureSet) FeatureSet {
	out := make(FeatureSet)
	for name := range fs {
		if other[name] {
			out[name] = true
		}
	}
	return out
}

// Names returns the feature names as a slice, order unspecified.
func (fs FeatureSet) Names() []string {
	out := make([]string, 0, len(fs))
	for name := range fs {
		out = append(out, name)
	}
	return out
}
