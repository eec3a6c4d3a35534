package resource

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/core/address"
	"golang.org/x/xerrors"
)

var (
	fakeToken = address.System(address.EntityResourceManager, "token")
	fakeBadge = address.System(address.EntityResourceManager, "badge")
)

func TestContainer_TakeByAmount(t *testing.T) {
	c := makeFungible(t, "80")

	out, err := c.TakeByAmount(dec("50"))
	require.NoError(t, err)
	require.Equal(t, "50", out.TotalAmount().String())
	require.Equal(t, "30", c.TotalAmount().String())

	_, err = c.TakeByAmount(dec("50"))
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
	require.EqualError(t, err, "requested 50, available 30: insufficient balance")
	require.Equal(t, "30", c.TotalAmount().String())

	_, err = c.TakeByAmount(dec("-1"))
	require.True(t, xerrors.Is(err, ErrInvalidAmount))

	_, err = c.TakeByAmount(dec("0.0000000000000000001"))
	require.True(t, xerrors.Is(err, ErrInvalidAmount))
}

func TestContainer_TakeByAmount_NonFungible(t *testing.T) {
	c := NewNonFungible(fakeBadge, NewIDSet("c", "a", "b"))

	out, err := c.TakeByAmount(dec("2"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out.TotalIDs().Sorted())
	require.Equal(t, []string{"c"}, c.TotalIDs().Sorted())

	_, err = c.TakeByAmount(dec("0.5"))
	require.True(t, xerrors.Is(err, ErrInvalidAmount))

	_, err = c.TakeByAmount(dec("2"))
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
}

func TestContainer_TakeByIDs(t *testing.T) {
	c := NewNonFungible(fakeBadge, NewIDSet("a", "b"))

	_, err := c.TakeByIDs(NewIDSet("z"))
	require.True(t, xerrors.Is(err, ErrNonFungibleNotFound))

	_, err = c.LockByIDs(NewIDSet("a"))
	require.NoError(t, err)

	_, err = c.TakeByIDs(NewIDSet("a"))
	require.True(t, xerrors.Is(err, ErrResourceLocked))

	out, err := c.TakeByIDs(NewIDSet("b"))
	require.NoError(t, err)
	require.True(t, out.TotalIDs().Has("b"))

	f := makeFungible(t, "1")
	_, err = f.TakeByIDs(NewIDSet("a"))
	require.True(t, xerrors.Is(err, ErrResourceMismatch))
}

func TestContainer_Put(t *testing.T) {
	c := makeFungible(t, "10")
	other := makeFungible(t, "5")

	require.NoError(t, c.Put(other))
	require.Equal(t, "15", c.TotalAmount().String())
	require.True(t, other.IsEmpty())

	badge := NewNonFungible(fakeBadge, NewIDSet("a"))
	err := c.Put(badge)
	require.True(t, xerrors.Is(err, ErrResourceMismatch))

	locked := makeFungible(t, "5")
	_, err = locked.LockByAmount(dec("1"))
	require.NoError(t, err)

	err = c.Put(locked)
	require.True(t, xerrors.Is(err, ErrResourceLocked))
	require.Equal(t, "15", c.TotalAmount().String())
}

func TestContainer_TakeAll(t *testing.T) {
	c := makeFungible(t, "10")
	_, err := c.LockByAmount(dec("4"))
	require.NoError(t, err)

	out := c.TakeAll()
	require.Equal(t, "6", out.TotalAmount().String())
	require.Equal(t, "4", c.TotalAmount().String())
	require.True(t, c.LiquidAmount().IsZero())
}

func TestContainer_FungibleLocks_Overlap(t *testing.T) {
	c := makeFungible(t, "100")

	t30, err := c.LockByAmount(dec("30"))
	require.NoError(t, err)
	require.Equal(t, "70", c.LiquidAmount().String())

	t50, err := c.LockByAmount(dec("50"))
	require.NoError(t, err)
	require.Equal(t, "50", c.LiquidAmount().String())
	require.Equal(t, "50", c.LockedAmount().String())

	t50b, err := c.LockByAmount(dec("50"))
	require.NoError(t, err)
	require.Equal(t, "50", c.LiquidAmount().String())

	_, err = c.LockByAmount(dec("101"))
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))

	require.NoError(t, c.Unlock(t50))
	require.Equal(t, "50", c.LiquidAmount().String())

	require.NoError(t, c.Unlock(t50b))
	require.Equal(t, "70", c.LiquidAmount().String())

	require.NoError(t, c.Unlock(t30))
	require.Equal(t, "100", c.LiquidAmount().String())
	require.False(t, c.IsLocked())

	err = c.Unlock(t30)
	require.EqualError(t, err, "amount 30 is not locked")
}

func TestContainer_NonFungibleLocks(t *testing.T) {
	c := NewNonFungible(fakeBadge, NewIDSet("a", "b", "c"))

	first, err := c.LockByIDs(NewIDSet("b"))
	require.NoError(t, err)

	second, err := c.LockByAmount(dec("2"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, second.IDs)
	require.Equal(t, []string{"c"}, c.LiquidIDs().Sorted())

	require.NoError(t, c.Unlock(first))
	require.Equal(t, []string{"c"}, c.LiquidIDs().Sorted())

	require.NoError(t, c.Unlock(second))
	require.Equal(t, []string{"a", "b", "c"}, c.LiquidIDs().Sorted())

	err = c.Unlock(second)
	require.EqualError(t, err, "id 'a' is not locked")

	_, err = c.LockByIDs(NewIDSet("z"))
	require.True(t, xerrors.Is(err, ErrNonFungibleNotFound))

	all, err := c.LockAll()
	require.NoError(t, err)
	require.Len(t, all.IDs, 3)
	require.Equal(t, "3", c.TotalAmount().String())
}

func TestContainer_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	containers := []*Container{makeFungible(t, "1000"), makeFungible(t, "0")}
	tokens := make([][]LockToken, len(containers))

	for i := 0; i < 500; i++ {
		from := rng.Intn(len(containers))
		to := 1 - from
		amount := decimal.New(int64(rng.Intn(200)), -int32(rng.Intn(3)))

		switch rng.Intn(4) {
		case 0:
			out, err := containers[from].TakeByAmount(amount)
			if err == nil {
				require.NoError(t, containers[to].Put(out))
			}
		case 1:
			token, err := containers[from].LockByAmount(amount)
			if err == nil {
				tokens[from] = append(tokens[from], token)
			}
		case 2:
			if len(tokens[from]) > 0 {
				require.NoError(t, containers[from].Unlock(tokens[from][0]))
				tokens[from] = tokens[from][1:]
			}
		case 3:
			out := containers[from].TakeAll()
			require.NoError(t, containers[to].Put(out))
		}

		total := containers[0].TotalAmount().Add(containers[1].TotalAmount())
		require.Equal(t, "1000", total.String())
	}
}

func TestContainer_JSON(t *testing.T) {
	c := NewNonFungible(fakeBadge, NewIDSet("a", "b"))
	_, err := c.LockByIDs(NewIDSet("a"))
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	decoded := &Container{}
	require.NoError(t, json.Unmarshal(data, decoded))
	require.Equal(t, fakeBadge, decoded.Resource())
	require.Equal(t, NonFungible, decoded.Kind())
	require.Equal(t, []string{"b"}, decoded.LiquidIDs().Sorted())
	require.Equal(t, []string{"a", "b"}, decoded.TotalIDs().Sorted())
	require.True(t, decoded.IsLocked())

	err = json.Unmarshal([]byte("[]"), decoded)
	require.Error(t, err)
}

func TestContainer_Clone(t *testing.T) {
	c := makeFungible(t, "10")
	clone := c.Clone()

	_, err := clone.TakeByAmount(dec("10"))
	require.NoError(t, err)
	require.Equal(t, "10", c.TotalAmount().String())
}

// -----------------------------------------------------------------------------
// Utility functions

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func makeFungible(t *testing.T, amount string) *Container {
	c, err := NewFungible(fakeToken, MaxDivisibility, dec(amount))
	require.NoError(t, err)

	return c
}
