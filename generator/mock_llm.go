package generator

import (
	"context"
	"encoding/json"

	"brick_model_generator/model"
)

// MockLLM is an offline stand-in that returns a small brick tower without calling a
// model. Bricks defaults to 4.
type MockLLM struct {
	Bricks int
}

func (m MockLLM) Complete(_ context.Context, _ Prompt) (string, error) {
	n := m.Bricks
	if n <= 0 {
		n = 4
	}
	identity := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	colors := []struct {
		id   int
		name string
	}{{4, "Red"}, {15, "White"}}

	set := model.LegoSet{
		Title:       "Mock Tower",
		Description: "A simple tower of alternating red and white 2 x 4 bricks on a green plate.",
		PartsCount:  2,
		Parts: []model.Part{
			{PartNum: "3036", PartName: "Plate 6 x 8", ColorID: 2, ColorName: "Green", Quantity: 1},
			{PartNum: "3001", PartName: "Brick 2 x 4", ColorID: 4, ColorName: "Red", Quantity: (n + 1) / 2},
		},
		PlacedParts: []model.PlacedPart{
			{PartFile: "3036.dat", ColorID: 2, Matrix: identity},
		},
		BuildSteps: []model.BuildStep{
			{Step: 1, Instructions: "Lay the green 6 x 8 plate down as the base.", ImagePrompt: "A green LEGO 6x8 plate on a white background, isometric view"},
		},
	}
	if white := n / 2; white > 0 {
		set.Parts = append(set.Parts, model.Part{PartNum: "3001", PartName: "Brick 2 x 4", ColorID: 15, ColorName: "White", Quantity: white})
	}
	for i := 0; i < n; i++ {
		c := colors[i%len(colors)]
		set.PlacedParts = append(set.PlacedParts, model.PlacedPart{
			PartFile: "3001.dat",
			ColorID:  c.id,
			Position: model.Position{Y: float64(-24 * (i + 1))},
			Matrix:   identity,
		})
	}
	set.BuildSteps = append(set.BuildSteps, model.BuildStep{
		Step:         2,
		Instructions: "Stack the 2 x 4 bricks in the center of the plate, alternating colors.",
		ImagePrompt:  "A small tower of red and white LEGO 2x4 bricks on a green plate, isometric view",
	})

	b, err := json.Marshal(set)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
