package stage

import (
	"context"
	"slices"
	"testing"

	"github.com/edge-vision/camctl/pkg/console"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Session, console.API) error { return nil }

// lifecycleRegistry mirrors the standard catalog's declaration order.
func lifecycleRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, name := range []string{
		"stage_initialize",
		"stage_start_logs",
		"stage_infer",
		"stage_download_logs",
		"stage_stop_processing",
	} {
		require.NoError(t, reg.Register(name, noop))
	}
	return reg
}

func TestRegistry_OrderFollowsRegistration(t *testing.T) {
	reg := lifecycleRegistry(t)

	assert.Equal(t, 5, reg.Len())
	assert.Equal(t, []string{
		"stage_initialize",
		"stage_start_logs",
		"stage_infer",
		"stage_download_logs",
		"stage_stop_processing",
	}, slices.Collect(reg.Names()))

	for i, name := range slices.Collect(reg.Names()) {
		def, err := reg.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, i, def.Order)
		assert.Equal(t, name, def.Name)
	}
}

func TestRegistry_Rejects(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stage_a", noop))

	tests := []struct {
		name    string
		stage   string
		action  Action
		wantErr error
	}{
		{"duplicate", "stage_a", noop, ErrDuplicateStage},
		{"missing prefix", "initialize", noop, ErrInvalidStageName},
		{"prefix only", "stage_", noop, ErrInvalidStageName},
		{"nil action", "stage_b", nil, ErrInvalidStageName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, reg.Register(tt.stage, tt.action), tt.wantErr)
		})
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	_, err := NewRegistry().Lookup("stage_missing")
	assert.ErrorIs(t, err, ErrStageNotFound)
}

func TestRegistry_NamesStopsEarly(t *testing.T) {
	reg := lifecycleRegistry(t)
	var seen []string
	for name := range reg.Names() {
		seen = append(seen, name)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"stage_initialize", "stage_start_logs"}, seen)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("stage_a", noop)
	assert.Panics(t, func() { reg.MustRegister("stage_a", noop) })
}
