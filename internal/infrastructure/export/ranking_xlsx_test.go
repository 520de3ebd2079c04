package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bloodlink/bloodlink-hub/internal/domain/geo"
	"github.com/bloodlink/bloodlink-hub/internal/domain/matching"
	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
)

func TestRankingXLSX(t *testing.T) {
	donors := []matching.RankedDonor{
		{
			DonorID:          "d-1",
			FullName:         "Dana N.",
			BloodGroup:       shared.BloodGroupONeg,
			Location:         geo.Point{Lng: 76.93, Lat: 43.257},
			DistanceKm:       1.25,
			ETAMinutes:       4,
			ETASource:        matching.ETAFromTraffic,
			EligibilityScore: 100,
			ReliabilityScore: 70,
		},
		{
			DonorID:    "d-2",
			BloodGroup: shared.BloodGroupONeg,
			Location:   geo.Point{Lng: 77.05, Lat: 43.35},
			DistanceKm: 14.8,
			ETAMinutes: 22,
			ETASource:  matching.ETAFromFallback,
		},
	}
	s := matching.NewCompositeRanking()
	for i := range donors {
		matching.ScoreDonor(s, &donors[i])
	}
	res := matching.BuildResult(s, donors)

	data, err := RankingXLSX(res)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, RankingHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "d-1", rows[1][1])
	assert.Equal(t, "traffic", rows[1][6])
	assert.Equal(t, "POINT(76.93 43.257)", rows[1][10])
	assert.Equal(t, "d-2", rows[2][1])
	assert.Equal(t, "average_speed", rows[2][6])
}

func TestRankingXLSX_Empty(t *testing.T) {
	res := matching.BuildResult(matching.NewCompositeRanking(), nil)

	data, err := RankingXLSX(res)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = RankingXLSX(nil)
	assert.Error(t, err)
}
