package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Command
		wantErr bool
	}{
		{name: "name and param", raw: "tune:7100000", want: Command{Name: "tune", Param: 7100000}},
		{name: "negative param", raw: "gain:-6", want: Command{Name: "gain", Param: -6}},
		{name: "no colon defaults param", raw: "status", want: Command{Name: "status"}},
		{name: "empty message", raw: "", want: Command{}},
		{name: "extra colon in param", raw: "tune:12:34", wantErr: true},
		{name: "non numeric param", raw: "tune:abc", wantErr: true},
		{name: "empty param", raw: "tune:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCommandParse))
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatcherRoutesToHandler(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)

	var gotClient, gotParam int
	d.Register("span", func(clientID, param int) {
		gotClient = clientID
		gotParam = param
	})

	require.NoError(t, d.Dispatch(5, "span:200000"))
	assert.Equal(t, 5, gotClient)
	assert.Equal(t, 200000, gotParam)
}

func TestDispatcherUnknownCommandIsDropped(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	assert.NoError(t, d.Dispatch(1, "reboot:1"))
}

func TestDispatcherMalformedCommand(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)

	called := false
	d.Register("tune", func(int, int) { called = true })

	err := d.Dispatch(1, "tune:notanumber")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, called, "handler must not run for malformed input")
}

func TestDispatcherReplacesBinding(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)

	first, second := 0, 0
	d.Register("tune", func(_, param int) { first = param })
	d.Register("tune", func(_, param int) { second = param })

	require.NoError(t, d.Dispatch(1, "tune:42"))
	assert.Equal(t, 0, first)
	assert.Equal(t, 42, second)
}
