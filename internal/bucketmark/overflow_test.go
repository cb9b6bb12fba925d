package bucketmark

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

func TestCheckedAddSectorsWithinRange(t *testing.T) {
	got, err := CheckedAddSectors(10, 5)
	assert.NoError(t, err)
	assert.Equal(t, uint32(15), got)
}

func TestCheckedAddSectorsNegativeDelta(t *testing.T) {
	got, err := CheckedAddSectors(10, -5)
	assert.NoError(t, err)
	assert.Equal(t, uint32(5), got)
}

func TestCheckedAddSectorsGoesNegative(t *testing.T) {
	_, err := CheckedAddSectors(3, -5)
	assert.ErrorIs(t, err, types.ErrInconsistency)
}

func TestCheckedAddSectorsOverflows(t *testing.T) {
	_, err := CheckedAddSectors(SectorFieldMax, 1)
	assert.True(t, errors.Is(err, types.ErrOverflow))
}

func TestCheckedAddSectorsAtBoundary(t *testing.T) {
	got, err := CheckedAddSectors(SectorFieldMax-1, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(SectorFieldMax), got)
}
