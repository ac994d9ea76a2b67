package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsquare0601/furniture-design-backend/model"
)

func TestEncodePrompts(t *testing.T) {
	prompts := &model.PromptSet{
		Points: [][2]float32{{10, 20}, {30, 40}},
		Labels: []int{1, 0},
		Boxes:  [][4]float32{{5, 6, 100, 200}},
	}

	points := encodePrompts(prompts)
	require.Len(t, points, 4)

	assert.Equal(t, promptPoint{X: 10, Y: 20, Label: labelForeground}, points[0])
	assert.Equal(t, promptPoint{X: 30, Y: 40, Label: labelBackground}, points[1])

	// 框编码为左上/右下两个角点
	assert.Equal(t, promptPoint{X: 5, Y: 6, Label: labelBoxTopLeft}, points[2])
	assert.Equal(t, promptPoint{X: 100, Y: 200, Label: labelBoxBotRight}, points[3])
}

func TestEncodePromptsBoxesOnly(t *testing.T) {
	prompts := &model.PromptSet{
		Boxes: [][4]float32{{0, 0, 50, 50}},
	}

	points := encodePrompts(prompts)
	require.Len(t, points, 2)
	assert.Equal(t, labelBoxTopLeft, points[0].Label)
	assert.Equal(t, labelBoxBotRight, points[1].Label)
}
