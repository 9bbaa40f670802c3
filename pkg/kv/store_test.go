package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreApplySetGetDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	setCmd, err := EncodeCommand(Command{Type: CommandSet, Key: "k", Value: []byte("v"), ClientID: "c1", RequestID: 1})
	require.NoError(t, err)
	_, err = s.Apply(ctx, 1, setCmd)
	require.NoError(t, err)

	getCmd, err := EncodeCommand(Command{Type: CommandGet, Key: "k"})
	require.NoError(t, err)
	raw, err := s.RunOperation(ctx, getCmd)
	require.NoError(t, err)
	result, err := DecodeResult(raw)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, []byte("v"), result.Value)

	delCmd, err := EncodeCommand(Command{Type: CommandDelete, Key: "k", ClientID: "c1", RequestID: 2})
	require.NoError(t, err)
	_, err = s.Apply(ctx, 2, delCmd)
	require.NoError(t, err)

	raw, err = s.RunOperation(ctx, getCmd)
	require.NoError(t, err)
	result, err = DecodeResult(raw)
	require.NoError(t, err)
	assert.False(t, result.Found)
}

func TestStoreApplyDedupsRetriedRequest(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	cmd, err := EncodeCommand(Command{Type: CommandSet, Key: "k", Value: []byte("first"), ClientID: "c1", RequestID: 1})
	require.NoError(t, err)
	_, err = s.Apply(ctx, 1, cmd)
	require.NoError(t, err)

	retry, err := EncodeCommand(Command{Type: CommandSet, Key: "k", Value: []byte("second"), ClientID: "c1", RequestID: 1})
	require.NoError(t, err)
	_, err = s.Apply(ctx, 2, retry)
	require.NoError(t, err)

	getCmd, _ := EncodeCommand(Command{Type: CommandGet, Key: "k"})
	raw, err := s.RunOperation(ctx, getCmd)
	require.NoError(t, err)
	result, _ := DecodeResult(raw)
	assert.Equal(t, []byte("first"), result.Value, "retried request with the same RequestID must not re-apply")
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	cmd, _ := EncodeCommand(Command{Type: CommandSet, Key: "k", Value: []byte("v"), ClientID: "c1", RequestID: 1})
	_, err := s.Apply(ctx, 1, cmd)
	require.NoError(t, err)

	chunks, err := s.TakeSnapshot(ctx, 8)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var full []byte
	for _, c := range chunks {
		full = append(full, c...)
	}

	s2 := NewStore()
	require.NoError(t, s2.InstallSnapshot(ctx, 1, full))

	getCmd, _ := EncodeCommand(Command{Type: CommandGet, Key: "k"})
	raw, err := s2.RunOperation(ctx, getCmd)
	require.NoError(t, err)
	result, _ := DecodeResult(raw)
	assert.True(t, result.Found)
	assert.Equal(t, []byte("v"), result.Value)
}
