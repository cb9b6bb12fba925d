package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReserveFactorMatchesShiftFormula(t *testing.T) {
	cases := []struct {
		in   uint64
		want uint64
	}{
		{0, 0},
		{64, 65},
		{128, 130},
		{1, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ReserveFactor(c.in), "ReserveFactor(%d)", c.in)
	}
}

func TestAvailFactorIsApproximateInverseOfReserveFactor(t *testing.T) {
	for _, r := range []uint64{0, 64, 640, 65536} {
		avail := AvailFactor(r)
		assert.LessOrEqual(t, ReserveFactor(avail), r, "reserve factor of the available amount should not exceed original")
	}
}

func TestReserveFactorShiftParameterizesStep(t *testing.T) {
	assert.Equal(t, uint64(0), ReserveFactorShift(0, 4))
	assert.Equal(t, uint64(17), ReserveFactorShift(16, 4))
}
