package game

import (
	"math/rand"

	"github.com/jason-s-yu/cluewords/internal/models"
)

// RolePolicy is the word-role distribution knob: how many of each role a
// team's key holds, how large the board is, and the starting turn budget.
// Roles are dealt independently per team, so a word's assignment for team
// one says nothing about its assignment for team two.
type RolePolicy struct {
	WordCount     int
	AgentsPerTeam int
	Assassins     int
	Decoys        int
	StartingTurns int
}

// DefaultPolicy mirrors the classic two-key party setup: 25 words, 9 agents
// and 3 assassins per side, the rest bystanders with a few decoys mixed in.
var DefaultPolicy = RolePolicy{
	WordCount:     25,
	AgentsPerTeam: 9,
	Assassins:     3,
	Decoys:        3,
	StartingTurns: 9,
}

// defaultWordList seeds boards when no external list is configured.
var defaultWordList = []string{
	"robot", "android", "anchor", "beacon", "bridge", "candle", "canvas",
	"cipher", "comet", "compass", "copper", "coral", "crane", "crystal",
	"dragon", "ember", "falcon", "fossil", "garden", "glacier", "hammer",
	"harbor", "igloo", "jungle", "kettle", "lantern", "magnet", "marble",
	"meadow", "needle", "nickel", "orchid", "oyster", "parrot", "pepper",
	"piano", "pirate", "planet", "prism", "quartz", "rocket", "saddle",
	"shadow", "signal", "sphinx", "spider", "temple", "thunder", "tunnel",
	"violet", "walnut", "whistle", "window", "zephyr",
}

// rolesFor builds one team's shuffled role column under the policy.
func (p RolePolicy) rolesFor(rng *rand.Rand) []models.Role {
	roles := make([]models.Role, 0, p.WordCount)
	for i := 0; i < p.AgentsPerTeam; i++ {
		roles = append(roles, models.RoleAgent)
	}
	for i := 0; i < p.Assassins; i++ {
		roles = append(roles, models.RoleAssassin)
	}
	for i := 0; i < p.Decoys; i++ {
		roles = append(roles, models.RoleDecoy)
	}
	for len(roles) < p.WordCount {
		roles = append(roles, models.RoleBystander)
	}
	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})
	return roles
}

// Deal draws a fresh word table from the list under the policy. Each team's
// roles are shuffled separately and every reveal flag starts false.
func (p RolePolicy) Deal(rng *rand.Rand, wordList []string) map[string]models.WordState {
	if len(wordList) == 0 {
		wordList = defaultWordList
	}
	count := p.WordCount
	if count > len(wordList) {
		count = len(wordList)
	}

	picked := rng.Perm(len(wordList))[:count]
	one := p.rolesFor(rng)
	two := p.rolesFor(rng)

	table := make(map[string]models.WordState, count)
	for i, idx := range picked {
		table[wordList[idx]] = models.WordState{
			RoleTeamOne: one[i],
			RoleTeamTwo: two[i],
		}
	}
	return table
}
