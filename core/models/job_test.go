package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusPaused.Terminal())
}

func TestTrainingMode_RequiredKeys(t *testing.T) {
	assert.Equal(t, []string{"prompt", "completion"}, ModeSFT.RequiredKeys())
	assert.Equal(t, []string{"prompt", "chosen", "rejected"}, ModeDPO.RequiredKeys())
	assert.Equal(t, []string{"prompt", "answer"}, ModeGRPO.RequiredKeys())
}

func TestPostProcessConfig_Enabled(t *testing.T) {
	assert.False(t, PostProcessConfig{}.Enabled())
	assert.True(t, PostProcessConfig{Quantize: true}.Enabled())
	assert.True(t, PostProcessConfig{ConvertGGUF: true}.Enabled())
}
