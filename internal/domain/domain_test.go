package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeploymentStatus(t *testing.T) {
	for _, status := range DeploymentStatuses {
		parsed, err := ParseDeploymentStatus(string(status))
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}
	parsed, err := ParseDeploymentStatus(" inprogress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, parsed)

	_, err = ParseDeploymentStatus("Running")
	assert.Error(t, err)
}

func TestDeploymentStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.Equal(t, "deployment.success", StatusSuccess.EventType())
	assert.Equal(t, "deployment.inprogress", StatusInProgress.EventType())
}

func TestWebhookSubscribes(t *testing.T) {
	hook := Webhook{Events: "deployment.success, deployment.failed"}
	assert.True(t, hook.Subscribes("deployment.success"))
	assert.True(t, hook.Subscribes("deployment.failed"))
	assert.False(t, hook.Subscribes("deployment.cancelled"))
	assert.False(t, hook.Subscribes(""))
	assert.False(t, hook.Subscribes("Deployment.Success"), "entries match case-sensitively")

	wildcard := Webhook{Events: "*"}
	assert.True(t, wildcard.Subscribes("deployment.promoted"))

	assert.False(t, Webhook{}.Subscribes("deployment.success"))
}
