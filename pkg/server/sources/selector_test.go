package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_Empty(t *testing.T) {
	_, ok := Select(nil, Query{Name: "Charizard"})
	assert.False(t, ok)
}

func TestSelect_SingleCandidateReturnedAsIs(t *testing.T) {
	only := Candidate{ID: "x", Name: "Blastoise"}
	got, ok := Select([]Candidate{only}, Query{Name: "Charizard"})
	require.True(t, ok)
	assert.Equal(t, "x", got.ID)
}

func TestSelect_PrefersExactSet(t *testing.T) {
	candidates := []Candidate{
		{ID: "base", Name: "Charizard", SetName: "Base Set", Number: "4"},
		{ID: "jungle", Name: "Charizard", SetName: "Jungle", Number: "4"},
	}
	got, ok := Select(candidates, Query{Name: "Charizard", SetName: "Base Set", CardNumber: "4"})
	require.True(t, ok)
	assert.Equal(t, "base", got.ID)

	got, _ = Select(candidates, Query{Name: "Charizard", SetName: "Jungle", CardNumber: "4"})
	assert.Equal(t, "jungle", got.ID)
}

func TestSelect_NumberOutweighsTitle(t *testing.T) {
	candidates := []Candidate{
		{ID: "wrong-number", Name: "Pikachu", Number: "58"},
		{ID: "right-number", Name: "Pikachu Illustrator Promo", Number: "025"},
	}
	got, _ := Select(candidates, Query{Name: "Pikachu", CardNumber: "25"})
	assert.Equal(t, "right-number", got.ID)
}

func TestSelect_TiesGoToFirst(t *testing.T) {
	candidates := []Candidate{
		{ID: "first", Name: "Mew"},
		{ID: "second", Name: "Mew"},
	}
	got, _ := Select(candidates, Query{Name: "Mew"})
	assert.Equal(t, "first", got.ID)
}

func TestScore(t *testing.T) {
	q := Query{Name: "Charizard", SetName: "Base Set", CardNumber: "4/102"}

	tests := []struct {
		name string
		c    Candidate
		want int
	}{
		{"all exact", Candidate{Name: "charizard", SetName: "base  set", Number: "004"}, 20},
		{"set contains query", Candidate{Name: "Charizard", SetName: "Base Set 2", Number: "4"}, 18},
		{"query contains set", Candidate{Name: "Charizard", SetName: "Base", Number: "4"}, 17},
		{"title prefix", Candidate{Name: "Charizard Holo", SetName: "Base Set"}, 8},
		{"title substring", Candidate{Name: "Dark Charizard", SetName: "Team Rocket"}, 1},
		{"nothing", Candidate{Name: "Blastoise", SetName: "Jungle", Number: "2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.c, q))
		})
	}
}
