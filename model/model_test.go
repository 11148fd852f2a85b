package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartUnmarshal_NonStringPartNum(t *testing.T) {
	var parts []Part
	err := json.Unmarshal([]byte(`[
		{"part_num":"3001","part_name":"Brick 2 x 4","color_id":4,"color_name":"Red","quantity":2},
		{"part_num":3023,"part_name":"Plate","color_id":1,"color_name":"Blue","quantity":1},
		{"part_name":"Mystery","quantity":1}
	]`), &parts)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	require.Equal(t, "3001", parts[0].PartNum)
	require.True(t, parts[0].Identified())
	require.Equal(t, 2, parts[0].Quantity)
	require.Equal(t, "", parts[1].PartNum)
	require.Equal(t, "Plate", parts[1].PartName)
	require.False(t, parts[2].Identified())
}

func TestPlacedPartUnmarshal_BadMatrix(t *testing.T) {
	var placed []PlacedPart
	err := json.Unmarshal([]byte(`[
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":-24,"z":10},"matrix":[1,0,0,0,1,0,0,0,1]},
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":0,"z":0},"matrix":["a",0,0]},
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":0,"z":0}},
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":0,"z":0},"matrix":[0,null,0,0,1,0,0,0,1]},
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":0,"z":0},"matrix":null},
		{"part_file":"3001.dat","color_id":4,"position":{"x":0,"y":0,"z":0},"matrix":"identity"}
	]`), &placed)
	require.NoError(t, err)
	require.Len(t, placed, 6)
	require.Equal(t, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, placed[0].Matrix)
	require.Equal(t, -24.0, placed[0].Position.Y)
	require.Equal(t, 4, placed[0].ColorID)
	for _, p := range placed[1:] {
		require.Nil(t, p.Matrix)
	}
}

func TestUnmarshal_IntegralFloats(t *testing.T) {
	var set LegoSet
	err := json.Unmarshal([]byte(`{
		"title":"Tower",
		"parts":[{"part_num":"3001","color_id":4.0,"quantity":2.0},{"part_num":"3003","color_id":"red","quantity":1.5}],
		"placed_parts":[{"part_file":"3001.dat","color_id":15.0,"position":{"x":0,"y":0,"z":0}}]
	}`), &set)
	require.NoError(t, err)
	require.Equal(t, 4, set.Parts[0].ColorID)
	require.Equal(t, 2, set.Parts[0].Quantity)
	require.Equal(t, 0, set.Parts[1].ColorID)
	require.Equal(t, 0, set.Parts[1].Quantity)
	require.Equal(t, "3003", set.Parts[1].PartNum)
	require.Equal(t, 15, set.PlacedParts[0].ColorID)
}

func TestLegoSet_TotalQuantityAndClone(t *testing.T) {
	set := &LegoSet{
		Title:       "Tower",
		PartsCount:  5,
		Parts:       []Part{{PartNum: "3001", Quantity: 3}, {PartNum: "3003", Quantity: 4}},
		PlacedParts: []PlacedPart{{PartFile: "3001.dat", Matrix: []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}},
		Validation:  &Validation{VerifiedCount: 1, TotalCount: 2},
	}
	require.Equal(t, 7, set.TotalQuantity())

	c := set.Clone()
	c.Parts[0].PartName = "changed"
	c.PlacedParts[0].Matrix[0] = 9
	c.Validation.VerifiedCount = 2
	require.Equal(t, "", set.Parts[0].PartName)
	require.Equal(t, 1.0, set.PlacedParts[0].Matrix[0])
	require.Equal(t, 1, set.Validation.VerifiedCount)
	require.Nil(t, (*LegoSet)(nil).Clone())
}

func TestGenerationOptions_Validate(t *testing.T) {
	require.NoError(t, GenerationOptions{Prompt: "a castle"}.Validate())
	require.NoError(t, GenerationOptions{Prompt: "a castle", MinParts: 10, MaxParts: 50}.Validate())
	require.NoError(t, GenerationOptions{Prompt: "a castle", MaxParts: 50}.Validate())
	require.Error(t, GenerationOptions{Prompt: "   "}.Validate())
	require.Error(t, GenerationOptions{Prompt: "x", MinParts: 10, MaxParts: 10}.Validate())
	require.Error(t, GenerationOptions{Prompt: "x", MinParts: -1}.Validate())
}

func TestValidation_Complete(t *testing.T) {
	require.True(t, Validation{VerifiedCount: 3, TotalCount: 3}.Complete())
	require.False(t, Validation{VerifiedCount: 2, TotalCount: 3}.Complete())
	require.False(t, Validation{TotalCount: 3, Error: "API connection failed"}.Complete())
}
