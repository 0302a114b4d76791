package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/syncbridge/config"
)

func TestResolve_GuestMode(t *testing.T) {
	set := Resolve(config.Mode{Guest: true})

	assert.True(t, set.Has(Transport))
	assert.True(t, set.Has(Translator))
	assert.True(t, set.Has(StateStore))
	assert.True(t, set.Has(Liveness))

	// No bus-side subsystem may exist in guest mode
	assert.False(t, set.Has(BusConnection))
	assert.False(t, set.Has(EventPublisher))
	assert.False(t, set.Has(LifecyclePublisher))
	assert.False(t, set.Has(CommandRouter))
	assert.False(t, set.Has(StatePersistence))
	assert.False(t, set.Has(ActionSender))
}

func TestResolve_CredentialedMode(t *testing.T) {
	set := Resolve(config.Mode{Guest: false, Username: "bridge", Password: "secret"})

	for _, c := range []Capability{
		Transport, Translator, StateStore, Liveness,
		BusConnection, EventPublisher, LifecyclePublisher,
		CommandRouter, StatePersistence, ActionSender,
	} {
		assert.True(t, set.Has(c), "capability %s should be enabled", c)
	}
}

func TestSet_ListStableOrder(t *testing.T) {
	set := Resolve(config.Mode{Guest: true})
	first := set.List()
	second := set.List()
	assert.Equal(t, first, second)
	assert.Len(t, first, 4)
}

func TestSet_StringNonEmpty(t *testing.T) {
	set := Resolve(config.Mode{Guest: true})
	assert.Contains(t, set.String(), "transport")
}
