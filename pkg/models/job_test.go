package models_test

import (
	"testing"

	"github.com/lisperz/frazo/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestDescriptor_Chained(t *testing.T) {
	tests := []struct {
		name    string
		desc    models.Descriptor
		chained bool
		inpaint bool
	}{
		{
			name:    "inpaint only",
			desc:    models.Descriptor{Inpaint: &models.InpaintStage{AutoDetectText: true}},
			chained: false,
			inpaint: true,
		},
		{
			name:    "lipsync only",
			desc:    models.Descriptor{LipSync: &models.LipSyncStage{AudioURL: "https://blob/a.wav"}},
			chained: false,
			inpaint: false,
		},
		{
			name: "lipsync then inpaint",
			desc: models.Descriptor{
				LipSync: &models.LipSyncStage{AudioURL: "https://blob/a.wav"},
				Inpaint: &models.InpaintStage{Regions: []models.Region{{X: 0.1, Y: 0.8, Width: 0.5, Height: 0.1}}},
			},
			chained: true,
			inpaint: true,
		},
		{
			name: "lipsync with empty inpaint block",
			desc: models.Descriptor{
				LipSync: &models.LipSyncStage{AudioURL: "https://blob/a.wav"},
				Inpaint: &models.InpaintStage{},
			},
			chained: false,
			inpaint: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.chained, tt.desc.Chained())
			assert.Equal(t, tt.inpaint, tt.desc.NeedsInpaint())
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, models.IsTerminalStatus(models.JobStatusCompleted))
	assert.True(t, models.IsTerminalStatus(models.JobStatusFailed))
	assert.True(t, models.IsTerminalStatus(models.JobStatusCanceled))
	assert.False(t, models.IsTerminalStatus(models.JobStatusQueued))
	assert.False(t, models.IsTerminalStatus(models.JobStatusProcessing))
	assert.False(t, models.IsTerminalStatus(models.JobStatusLipsyncProcessing))
}
