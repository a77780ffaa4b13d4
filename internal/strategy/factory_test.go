package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	t.Parallel()

	entries := Catalog()
	require.Len(t, entries, 4)

	var types []Type
	for _, e := range entries {
		types = append(types, e.Type)
		assert.Equal(t, "BTC-USDT-SWAP", e.Defaults["symbol"])
		assert.EqualValues(t, 10.0, e.Defaults["position_size_percent"])
	}
	assert.Equal(t, []Type{TypeCustom, TypeGrid, TypeMACross, TypeMomentum}, types)
}

func TestNew_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		typ    Type
		id     string
		params Parameters
		field  string
	}{
		{"unknown type", "martingale", "x", nil, "type"},
		{"empty id", TypeMomentum, "", nil, "id"},
		{"empty symbol", TypeMomentum, "x", Parameters{"symbol": ""}, "symbol"},
		{"lookback", TypeMomentum, "x", Parameters{"lookback_period": 0}, "lookback_period"},
		{"threshold", TypeMomentum, "x", Parameters{"threshold": -1}, "threshold"},
		{"grid range", TypeGrid, "x", Parameters{"upper_price": 1, "lower_price": 2}, "upper_price"},
		{"grid num", TypeGrid, "x", Parameters{"grid_num": 0}, "grid_num"},
		{"ma periods", TypeMACross, "x", Parameters{"fast_period": 20, "slow_period": 5}, "slow_period"},
		{"bad type", TypeMACross, "x", Parameters{"fast_period": "fast"}, "parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.typ, tt.id, "", "", tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNew_WeaklyTypedParameters(t *testing.T) {
	t.Parallel()

	s, err := New(TypeMACross, "ma", "My MA", "desc", Parameters{"fast_period": "3", "slow_period": "8"})
	require.NoError(t, err)

	info := s.Info()
	assert.Equal(t, "ma", info.ID)
	assert.Equal(t, "My MA", info.Name)
	assert.Equal(t, TypeMACross, info.Type)
	assert.Equal(t, StateUninitialized, info.State)
	assert.Equal(t, "3", info.Parameters["fast_period"])
	assert.Equal(t, 3, s.(*MACross).params.FastPeriod)
}

func TestUpdateParameters_RejectsInvalidPatchWithoutChange(t *testing.T) {
	t.Parallel()

	s, err := New(TypeMomentum, "m", "", "", nil)
	require.NoError(t, err)

	err = s.UpdateParameters(Parameters{"threshold": 0})
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualValues(t, 0.01, s.Parameters()["threshold"])

	require.NoError(t, s.UpdateParameters(Parameters{"threshold": 0.05}))
	assert.EqualValues(t, 0.05, s.Parameters()["threshold"])
}

func TestClone_FreshState(t *testing.T) {
	t.Parallel()

	s, err := New(TypeGrid, "g", "", "", Parameters{"lower_price": 10, "upper_price": 20, "grid_num": 2})
	require.NoError(t, err)
	_, _ = s.GenerateSignal(snap(12), nil, account(100))
	assert.True(t, s.(*Grid).hasLast)

	c, err := Clone(s)
	require.NoError(t, err)
	assert.False(t, c.(*Grid).hasLast)
	assert.Equal(t, s.Parameters(), c.Parameters())
}
