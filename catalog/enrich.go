package catalog

import (
	"context"
	"regexp"

	"k8s.io/klog/v2"

	"brick_model_generator/metrics"
	"brick_model_generator/model"
)

// DefaultChunkSize keeps part_nums under the catalog's request-size ceiling (~200).
const DefaultChunkSize = 150

// ErrUnavailable is the validation error marker when the catalog cannot be reached.
const ErrUnavailable = "API connection failed"

var datSuffix = regexp.MustCompile(`(?i)\.dat$`)

// Status tags how far an enrichment got.
type Status string

const (
	// StatusVerified means every chunk was answered.
	StatusVerified Status = "verified"
	// StatusPartial means at least one chunk was rejected and skipped.
	StatusPartial Status = "partial"
	// StatusEmpty means there was nothing to look up.
	StatusEmpty Status = "empty"
	// StatusUnavailable means the catalog could not be reached; names are unchanged.
	StatusUnavailable Status = "unavailable"
)

// Outcome is the enriched set and how it was produced.
type Outcome struct {
	Set    *model.LegoSet
	Status Status
}

// Degraded reports whether the outcome is best-effort.
func (o Outcome) Degraded() bool {
	return o.Status == StatusPartial || o.Status == StatusUnavailable
}

// Enricher replaces generated part names with catalog names.
type Enricher struct {
	Lookup    PartLookup
	ChunkSize int
}

// NewEnricher returns an Enricher with the default chunk size.
func NewEnricher(lookup PartLookup) *Enricher {
	return &Enricher{Lookup: lookup, ChunkSize: DefaultChunkSize}
}

// CleanPartNum strips a trailing ".dat" (any case) so LDraw file names match catalog keys.
func CleanPartNum(partNum string) string {
	return datSuffix.ReplaceAllString(partNum, "")
}

// Enrich never returns an error: a rejected chunk is skipped and an unreachable catalog
// yields a validation carrying ErrUnavailable. The input set is not modified.
func (e *Enricher) Enrich(ctx context.Context, set *model.LegoSet) Outcome {
	out := set.Clone()
	if out == nil {
		out = &model.LegoSet{}
	}
	if len(out.Parts) == 0 {
		out.Validation = &model.Validation{}
		return Outcome{Set: out, Status: StatusEmpty}
	}

	var valid, invalid []model.Part
	for _, p := range out.Parts {
		if p.Identified() {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, p)
		}
	}

	var keys []string
	seen := make(map[string]bool)
	for _, p := range valid {
		k := CleanPartNum(p.PartNum)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		out.Parts = invalid
		out.Validation = &model.Validation{}
		return Outcome{Set: out, Status: StatusEmpty}
	}

	size := e.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	found := make(map[string]CatalogPart)
	status := StatusVerified
	for _, chunk := range chunks(keys, size) {
		results, err := e.Lookup.LookupParts(ctx, chunk)
		if err != nil {
			if IsRejected(err) {
				metrics.CatalogChunksTotal.WithLabelValues("rejected").Inc()
				klog.Errorf("[catalog] chunk of %d part numbers rejected: %v", len(chunk), err)
				status = StatusPartial
				continue
			}
			metrics.CatalogChunksTotal.WithLabelValues("unreachable").Inc()
			klog.Errorf("[catalog] error connecting to catalog: %v", err)
			// out.Parts is still the untouched original list, unidentified parts included.
			out.Validation = &model.Validation{TotalCount: len(keys), Error: ErrUnavailable}
			return Outcome{Set: out, Status: StatusUnavailable}
		}
		metrics.CatalogChunksTotal.WithLabelValues("ok").Inc()
		for _, cp := range results {
			found[cp.PartNum] = cp
		}
	}

	for i, p := range valid {
		if cp, ok := found[CleanPartNum(p.PartNum)]; ok {
			valid[i].PartName = cp.Name
		}
	}
	out.Parts = append(valid, invalid...)
	out.Validation = &model.Validation{VerifiedCount: len(found), TotalCount: len(keys)}
	klog.V(2).Infof("[catalog] verified %d/%d part types", len(found), len(keys))
	return Outcome{Set: out, Status: status}
}

func chunks(keys []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[i:end])
	}
	return out
}
