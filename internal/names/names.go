// Package names generates memorable room names and identities for the join
// command when none are given on the command line.
package names

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "narwhal", "penguin", "toucan",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "biryani", "paella", "risotto", "dumpling",
	"noodle", "omelette", "kebab", "fondue", "pierogi", "gnocchi", "falafel", "samosa", "poutine", "dimsum",
}

var people = []string{
	"alice", "bob", "charlie", "daisy", "ella", "finn", "grace", "henry", "isla", "jack",
	"kai", "luna", "mia", "noah", "olivia", "quinn", "sam", "uma", "yara", "zoe",
}

var things = []string{
	"sunbeam", "stardust", "muffin", "bubble", "sprout", "glimmer", "marble", "maple", "ember", "willow",
	"lantern", "pebble", "rocket", "comet", "orbit", "nebula", "canyon", "ridge", "puddle", "thimble",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "jolly", "cozy", "shiny", "golden",
	"silver", "crimson", "emerald", "gentle", "brave", "calm", "swift", "bouncy", "merry", "peppy",
}

// Room returns a hyphenated name made of one word from each of three distinct
// word lists, e.g. "sleepy-otter-ramen". Names for which taken reports true
// are skipped; a nil taken accepts the first candidate.
func Room(taken func(string) bool) string {
	pool := [][]string{animals, dishes, people, things}
	for {
		parts := []string{pick(adjectives)}
		used := make(map[int]bool, 2)
		for len(parts) < 3 {
			i := randomIndex(len(pool))
			if used[i] {
				continue
			}
			used[i] = true
			parts = append(parts, pick(pool[i]))
		}
		name := strings.Join(parts, "-")
		if taken == nil || !taken(name) {
			return name
		}
	}
}

// Identity returns a short display name such as "brave-luna".
func Identity() string {
	return pick(adjectives) + "-" + pick(people)
}

func pick(words []string) string {
	return words[randomIndex(len(words))]
}

// randomIndex returns a cryptographically secure random index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("names: random source failed: " + err.Error())
	}
	return int(n.Int64())
}
