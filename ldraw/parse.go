package ldraw

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"brick_model_generator/model"
)

// Parse reads the type-1 (sub-file reference) lines of an LDraw document back into
// placed parts. Comment and meta lines are skipped.
func Parse(content string) ([]model.PlacedPart, error) {
	var parts []model.PlacedPart
	sc := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "1" {
			continue
		}
		// 1 colour x y z a..i file
		if len(fields) < 15 {
			return nil, fmt.Errorf("line %d: expected 15 fields, got %d", lineNo, len(fields))
		}
		color, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: colour: %w", lineNo, err)
		}
		nums := make([]float64, 12)
		for i := range nums {
			v, err := strconv.ParseFloat(fields[2+i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %d: %w", lineNo, 3+i, err)
			}
			nums[i] = v
		}
		parts = append(parts, model.PlacedPart{
			PartFile: strings.Join(fields[14:], " "),
			ColorID:  color,
			Position: model.Position{X: nums[0], Y: nums[1], Z: nums[2]},
			Matrix:   nums[3:],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}
