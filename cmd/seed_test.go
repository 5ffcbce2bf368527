package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/dompay/services/esocial/internal/models"
)

func TestBaselineSeedCoversBothValidatorTables(t *testing.T) {
	items := baselineReferenceItems()
	require.NotEmpty(t, items)

	byTable := make(map[string]map[string]bool)
	for _, item := range items {
		require.NotEmpty(t, item.Code)
		require.NotEmpty(t, item.Description)
		require.True(t, item.Active)
		if byTable[item.Table] == nil {
			byTable[item.Table] = make(map[string]bool)
		}
		require.False(t, byTable[item.Table][item.Code], "duplicate code %s in %s", item.Code, item.Table)
		byTable[item.Table][item.Code] = true
	}

	// The validator consults both tables; a baseline without rubrics would
	// terminally reject every payroll line
	require.NotEmpty(t, byTable[models.RefTableCategories])
	require.NotEmpty(t, byTable[models.RefTableRubrics])
	require.True(t, byTable[models.RefTableCategories]["101"])
	require.True(t, byTable[models.RefTableRubrics]["1000"])
}
