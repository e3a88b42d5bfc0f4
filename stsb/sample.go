package stsb

import (
	"fmt"
	"math/rand"

	"github.com/charmbracelet/lipgloss"
)

var sampleStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder()).
	Padding(0, 2, 0, 2).
	Width(72)

// PrintSample prints n random examples of the given split, with their
// external-scale scores.
func (c *Corpus) PrintSample(split Split, n int, rng *rand.Rand) {
	examples := c.Split(split)
	for ii := range n {
		example := examples[rng.Intn(len(examples))]
		fmt.Println(sampleStyle.Render(fmt.Sprintf(
			"[Sample %d: score %.2f/5]\nA: %s\nB: %s",
			ii, example.Label*ExternalScale, example.Sentence1, example.Sentence2)))
	}
	fmt.Println()
}
