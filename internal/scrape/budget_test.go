package scrape

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageBudgetLimit(t *testing.T) {
	require.Equal(t, DefaultPageLimit, PageBudget{}.Limit())
	require.Equal(t, 1, PagesFirst().Limit())
	require.Equal(t, MaxPageLimit, PagesAll().Limit())
	require.Equal(t, 7, PagesN(7).Limit())
	require.Equal(t, MaxPageLimit, PagesN(500).Limit())
	require.Equal(t, 1, PagesN(0).Limit())
}

func TestParsePageBudget(t *testing.T) {
	b, err := ParsePageBudget("")
	require.NoError(t, err)
	require.True(t, b.IsZero())

	b, err = ParsePageBudget("first")
	require.NoError(t, err)
	require.Equal(t, 1, b.Limit())

	b, err = ParsePageBudget("all")
	require.NoError(t, err)
	require.Equal(t, MaxPageLimit, b.Limit())

	b, err = ParsePageBudget("3")
	require.NoError(t, err)
	require.Equal(t, 3, b.Limit())

	_, err = ParsePageBudget("-2")
	require.Error(t, err)
	_, err = ParsePageBudget("soon")
	require.Error(t, err)
}

func TestPageBudgetJSON(t *testing.T) {
	type payload struct {
		Pages PageBudget `json:"pages"`
	}

	out, err := json.Marshal(payload{Pages: PagesAll()})
	require.NoError(t, err)
	require.JSONEq(t, `{"pages":"all"}`, string(out))

	out, err = json.Marshal(payload{Pages: PagesN(4)})
	require.NoError(t, err)
	require.JSONEq(t, `{"pages":4}`, string(out))

	out, err = json.Marshal(payload{})
	require.NoError(t, err)
	require.JSONEq(t, `{"pages":null}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"pages":"first"}`), &in))
	require.Equal(t, 1, in.Pages.Limit())

	require.NoError(t, json.Unmarshal([]byte(`{"pages":12}`), &in))
	require.Equal(t, 12, in.Pages.Limit())

	require.NoError(t, json.Unmarshal([]byte(`{"pages":null}`), &in))
	require.True(t, in.Pages.IsZero())

	require.Error(t, json.Unmarshal([]byte(`{"pages":0}`), &in))
	require.Error(t, json.Unmarshal([]byte(`{"pages":"later"}`), &in))
}
