package result

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/market-keeper/internal/errs"
)

func describe(s State[int]) string {
	return Match(s,
		func() string { return "loading" },
		func(v int) string { return fmt.Sprintf("ok:%d", v) },
		func(e Error) string { return "err:" + e.Kind.String() },
	)
}

func TestMatch_EachBranch(t *testing.T) {
	require.Equal(t, "loading", describe(Loading[int]()))
	require.Equal(t, "ok:7", describe(Success(7)))
	require.Equal(t, "err:NotFound", describe(Fail[int](errs.KindNotFound, "missing")))

	var zero State[int]
	require.True(t, zero.IsLoading(), "zero value must be Loading")
}

func TestFromError_ClassifiesKind(t *testing.T) {
	cases := []struct {
		err  error
		want errs.Kind
	}{
		{errs.Validation("need 3 images"), errs.KindValidation},
		{fmt.Errorf("get profile: %w", errs.ErrNotFound), errs.KindNotFound},
		{errs.ErrUnauthorized, errs.KindNotAuthenticated},
		{fmt.Errorf("image 2: %w", errs.ErrPartialUpload), errs.KindPartialUpload},
		{errors.New("connection reset"), errs.KindRemoteUnavailable},
	}
	for _, c := range cases {
		s := FromError[string](c.err)
		e, ok := s.Err()
		require.True(t, ok)
		require.Equal(t, c.want, e.Kind, c.err.Error())
		require.Equal(t, c.err.Error(), e.Message)
	}
}

func TestOfAndMap(t *testing.T) {
	s := Map(Of(3, nil), func(v int) string { return fmt.Sprint(v * 2) })
	v, ok := s.Value()
	require.True(t, ok)
	require.Equal(t, "6", v)

	f := Map(Of(0, errs.ErrNotFound), func(v int) string { return "unreachable" })
	e, ok := f.Err()
	require.True(t, ok)
	require.Equal(t, errs.KindNotFound, e.Kind)

	require.True(t, Map(Loading[int](), func(int) bool { return true }).IsLoading())
}
