package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/automaker/internal/feature"
)

func TestStatusTitle(t *testing.T) {
	for _, s := range feature.Statuses() {
		assert.NotEqual(t, string(s), StatusTitle(s), "status %s has no title", s)
	}
	assert.Equal(t, "Waiting Approval", StatusTitle(feature.StatusWaitingApproval))
	assert.Equal(t, "mystery", StatusTitle(feature.Status("mystery")))
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, MutedColor, StatusColor(feature.StatusBacklog))
	assert.Equal(t, SuccessColor, StatusColor(feature.StatusInProgress))
	assert.Equal(t, WarningColor, StatusColor(feature.StatusWaitingApproval))
}
