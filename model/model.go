// Package model holds the structured brick model returned by the generation service.
package model

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Part is one line of the parts list.
type Part struct {
	PartNum   string `json:"part_num"`
	PartName  string `json:"part_name"`
	ColorID   int    `json:"color_id"`
	ColorName string `json:"color_name"`
	Quantity  int    `json:"quantity"`
}

// UnmarshalJSON accepts a part_num of any JSON type. Anything but a string leaves
// PartNum empty so the part is treated as unidentified instead of failing the whole set.
// color_id and quantity accept any integral number, e.g. 4.0.
func (p *Part) UnmarshalJSON(data []byte) error {
	type alias Part
	var raw struct {
		alias
		PartNum  json.RawMessage `json:"part_num"`
		ColorID  json.RawMessage `json:"color_id"`
		Quantity json.RawMessage `json:"quantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Part(raw.alias)
	p.PartNum = ""
	if len(raw.PartNum) > 0 && raw.PartNum[0] == '"' {
		var s string
		if err := json.Unmarshal(raw.PartNum, &s); err == nil {
			p.PartNum = s
		}
	}
	p.ColorID = lenientInt(raw.ColorID)
	p.Quantity = lenientInt(raw.Quantity)
	return nil
}

// lenientInt decodes an integral JSON number. Anything else, fractions included, is 0.
func lenientInt(raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// Identified reports whether the part carries a catalog identifier.
func (p Part) Identified() bool {
	return p.PartNum != ""
}

// Position is an LDraw coordinate (LDU).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlacedPart places one geometry file in 3D space.
type PlacedPart struct {
	PartFile string   `json:"part_file"` // e.g. "3001.dat"
	ColorID  int      `json:"color_id"`
	Position Position `json:"position"`
	// Matrix is the row-major 3x3 rotation. Anything but 9 numbers is treated as identity.
	Matrix []float64 `json:"matrix"`
}

// UnmarshalJSON drops a matrix that is not an array of numbers rather than rejecting the part.
// A null element counts as non-numeric.
func (p *PlacedPart) UnmarshalJSON(data []byte) error {
	type alias PlacedPart
	var raw struct {
		alias
		ColorID json.RawMessage `json:"color_id"`
		Matrix  json.RawMessage `json:"matrix"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PlacedPart(raw.alias)
	p.ColorID = lenientInt(raw.ColorID)
	p.Matrix = decodeMatrix(raw.Matrix)
	return nil
}

func decodeMatrix(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var elems []*float64
	if err := json.Unmarshal(raw, &elems); err != nil || elems == nil {
		return nil
	}
	m := make([]float64, len(elems))
	for i, v := range elems {
		if v == nil {
			return nil
		}
		m[i] = *v
	}
	return m
}

// BuildStep is one instruction step. ImagePrompt is passed through untouched.
type BuildStep struct {
	Step         int    `json:"step"`
	Instructions string `json:"instructions"`
	ImagePrompt  string `json:"image_prompt"`
}

// Validation summarizes the catalog cross-check.
type Validation struct {
	VerifiedCount int    `json:"verified_count"`
	TotalCount    int    `json:"total_count"`
	Error         string `json:"error,omitempty"`
}

// Complete reports whether every submitted part type was recognized.
func (v Validation) Complete() bool {
	return v.Error == "" && v.VerifiedCount == v.TotalCount
}

// LegoSet is the full generation result.
type LegoSet struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// PartsCount is the declared number of unique part types. It is reported as-is and
	// never reconciled with len(Parts).
	PartsCount  int          `json:"parts_count"`
	Parts       []Part       `json:"parts"`
	PlacedParts []PlacedPart `json:"placed_parts"`
	BuildSteps  []BuildStep  `json:"build_steps"`
	Validation  *Validation  `json:"rebrickable_validation,omitempty"`
}

// TotalQuantity sums the quantities of the parts list.
func (s *LegoSet) TotalQuantity() int {
	total := 0
	for _, p := range s.Parts {
		total += p.Quantity
	}
	return total
}

// Clone returns a copy that shares no slices with s.
func (s *LegoSet) Clone() *LegoSet {
	if s == nil {
		return nil
	}
	c := *s
	c.Parts = append([]Part(nil), s.Parts...)
	c.PlacedParts = make([]PlacedPart, len(s.PlacedParts))
	for i, pp := range s.PlacedParts {
		pp.Matrix = append([]float64(nil), pp.Matrix...)
		c.PlacedParts[i] = pp
	}
	c.BuildSteps = append([]BuildStep(nil), s.BuildSteps...)
	if s.Validation != nil {
		v := *s.Validation
		c.Validation = &v
	}
	return &c
}

// Status is the lifecycle of one generation attempt.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// GenerationOptions is a request to the generation service.
type GenerationOptions struct {
	Prompt   string `json:"prompt"`
	MinParts int    `json:"min_parts,omitempty"`
	MaxParts int    `json:"max_parts,omitempty"`
}

// Validate checks the prompt and the optional part bounds. Zero means unset.
func (o GenerationOptions) Validate() error {
	if strings.TrimSpace(o.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if o.MinParts < 0 || o.MaxParts < 0 {
		return errors.New("part bounds must be positive")
	}
	if o.MinParts > 0 && o.MaxParts > 0 && o.MaxParts <= o.MinParts {
		return errors.New("max_parts must be greater than min_parts")
	}
	return nil
}
