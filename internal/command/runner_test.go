package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/defgrid/tunnelrotor/internal/errtax"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), []string{"/bin/echo", "hello"}, time.Second)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Contains(t, res.Stdout, "hello")
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), []string{"/bin/false"}, time.Second)
	require.NoError(t, err)
	require.False(t, res.Success)
}

func TestRunTimeout(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), []string{"/bin/sleep", "5"}, 50*time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.Is(err, errtax.ErrTimeout))
}

func TestRunSpawnError(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), []string{"/no/such/binary"}, time.Second)
	require.Error(t, err)
	require.True(t, errors.Is(err, errtax.ErrSpawnError))
}

func TestRunEmptyArgv(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), nil, time.Second)
	require.Error(t, err)
}
