package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweeplab/internal/domain"
)

func TestScoreRequestFlawsAcceptsStringOrList(t *testing.T) {
	var req scoreRequest
	require.NoError(t, json.Unmarshal([]byte(`{"flaws":"hands, eyes"}`), &req))
	u, err := req.update()
	require.NoError(t, err)
	assert.True(t, u.FlawsSet)
	assert.Equal(t, []string{"hands", " eyes"}, u.Flaws)

	req = scoreRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"flaws":["x"],"score_overall":3}`), &req))
	u, err = req.update()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, u.Flaws)
	require.NotNil(t, u.Scores.Overall)

	req = scoreRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"flaws":null}`), &req))
	u, err = req.update()
	require.NoError(t, err)
	assert.False(t, u.FlawsSet)

	req = scoreRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"flaws":42}`), &req))
	_, err = req.update()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSweepRequestLoRAOnlyWhenSet(t *testing.T) {
	s := defaultSweep()
	raws, configs, err := s.expand()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.NotContains(t, string(raws[0]), "lora")

	lora := "add_detail"
	s.LoRA = &lora
	s.LoRAScale = 0.4
	_, configs, err = s.expand()
	require.NoError(t, err)
	assert.Equal(t, "add_detail", configs[0].LoRA)
	require.NotNil(t, configs[0].LoRAScale)
	assert.InDelta(t, 0.4, *configs[0].LoRAScale, 1e-9)

	s.LoRAScale = 2
	_, _, err = s.expand()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCSVRecordWithoutConfig(t *testing.T) {
	overall := 4
	row := domain.ExportRow{
		Run: domain.Run{ID: "r1", BatchNumber: 3, Name: "Batch 3", Prompt: "p", ModelID: "m"},
		Image: domain.Image{
			ID:        "i1",
			CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			Scores:    domain.Scores{Overall: &overall},
			Flaws:     []string{"hands"},
		},
	}
	rec := csvRecord(row)
	require.Len(t, rec, len(csvColumns))
	assert.Equal(t, "3", rec[1])
	assert.Equal(t, "", rec[7])
	assert.Equal(t, "4", rec[13])
	assert.Equal(t, "", rec[14])
	assert.Equal(t, "0", rec[len(rec)-2])
	assert.Equal(t, `["hands"]`, rec[len(rec)-1])
}

func TestPreviewTruncates(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("a", 150)
	assert.Equal(t, strings.Repeat("a", 100)+"...", preview(long))
}

func TestQueryIntBounds(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/images?limit=0", nil)
	_, err := queryInt(r, "limit", 50, 1, 1000)
	assert.ErrorIs(t, err, domain.ErrValidation)

	r = httptest.NewRequest("GET", "/api/images", nil)
	v, err := queryInt(r, "limit", 50, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 50, v)
}
