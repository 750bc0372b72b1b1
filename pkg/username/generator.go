package username

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/vango-dev/tether/pkg/protocol"
)

var adjectives = []string{
	"amber", "bold", "brave", "brisk", "calm", "clever", "cosmic", "crisp",
	"dusty", "eager", "fancy", "gentle", "glad", "golden", "hidden", "humble",
	"icy", "jolly", "keen", "lively", "lucky", "mellow", "misty", "noble",
	"odd", "quiet", "rapid", "rusty", "shy", "silent", "steady", "sunny",
	"swift", "tidy", "vivid", "wild", "witty", "young", "zesty",
}

var nouns = []string{
	"badger", "beacon", "birch", "canyon", "cedar", "comet", "coral", "crane",
	"delta", "ember", "falcon", "fern", "fjord", "fox", "glade", "harbor",
	"heron", "island", "lynx", "maple", "meadow", "otter", "owl", "pebble",
	"pine", "quartz", "raven", "reef", "river", "sparrow", "spruce", "summit",
	"thistle", "tundra", "valley", "walrus", "willow", "wren",
}

// Generator produces random adjective-noun-number names that always pass
// Validate. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a Generator drawing from src. A nil src uses a
// randomly seeded PCG source.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rnd: rand.New(src)}
}

// Next returns a fresh candidate name.
func (g *Generator) Next() protocol.Username {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		name := protocol.Username(fmt.Sprintf("%s-%s-%d",
			adjectives[g.rnd.IntN(len(adjectives))],
			nouns[g.rnd.IntN(len(nouns))],
			g.rnd.IntN(10000)))
		if Validate(name) == nil {
			return name
		}
	}
}
