package kverrors_test

import (
	"errors"
	"testing"

	"github.com/erigontech/stackdb/kverrors"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := kverrors.Wrap(kverrors.KindStorageFailure, cause, "applyBatch failed")

	require.Equal(t, kverrors.KindStorageFailure, kverrors.GetKind(err))
	require.True(t, kverrors.Is(err, kverrors.KindStorageFailure))
	require.ErrorContains(t, err, "disk full")

	var ke *kverrors.Error
	require.True(t, errors.As(err, &ke))
	require.ErrorIs(t, ke.Unwrap(), cause)
}

func TestGetKindOnPlainError(t *testing.T) {
	require.Equal(t, kverrors.KindNone, kverrors.GetKind(errors.New("boom")))
	require.Equal(t, kverrors.KindNone, kverrors.GetKind(nil))
}

func TestSentinels(t *testing.T) {
	require.True(t, kverrors.Is(kverrors.ErrNotConnected, kverrors.KindNotConnected))
	require.True(t, kverrors.Is(kverrors.ErrClosed, kverrors.KindClosed))
	require.True(t, kverrors.Is(kverrors.ErrStackOverflow, kverrors.KindStackOverflow))
}
