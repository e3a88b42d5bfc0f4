// Sentence-pair similarity demo: fine-tunes one (or all three) scoring-head
// architectures on the STS Benchmark, reports their dev/test Pearson
// correlation, and scores a couple of demonstration pairs.
package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/semscore/semscore"
	"github.com/semscore/semscore/heads"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir = flag.String("data", "~/tmp/semscore",
		"Directory to cache the downloaded corpus, encoder and checkpoints.")
	flagCheckpoint = flag.String("checkpoint", "",
		"Directory (under -data) to save and load checkpoints from. If left empty, nothing is written "+
			"to disk and the best validation parameters are only kept in memory.")
	flagArch = flag.String("arch", "all",
		"Architecture to train: all, concat, siamese or crossattention.")
	flagEval = flag.Bool("eval", true,
		"Whether to evaluate the best snapshot on the test split at the end.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

// demoPairs scored after training: an identical pair, expected near the top
// of the scale, and an unrelated one, expected well below it.
var demoPairs = [][2]string{
	{"The dog is barking loudly", "The dog is barking loudly"},
	{"I love eating apples", "The capital of France is Paris"},
}

func main() {
	baseCtx := semscore.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(baseCtx, "")
	klog.InitFlags(nil)
	flag.Parse()

	var archs []heads.Arch
	if *flagArch == "all" {
		archs = heads.All
	} else {
		archs = []heads.Arch{heads.Arch(*flagArch)}
	}

	err := exceptions.TryCatch[error](func() {
		var results []*semscore.TrainingResult
		for _, arch := range archs {
			// Each architecture gets a fresh context: encoders and gradients
			// are never shared across heads.
			ctx := semscore.CreateDefaultContext()
			paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
			result := must.M1(semscore.TrainArchitecture(
				ctx, arch, *flagDataDir, *flagCheckpoint, paramsSet, *flagEval, *flagVerbosity))
			defer result.Close()
			results = append(results, result)
		}
		printComparison(results)
		printDemoScores(results)
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

var tableStyle = lipgloss.NewStyle().
	Border(lipgloss.NormalBorder()).
	Padding(0, 2, 0, 2)

func printComparison(results []*semscore.TrainingResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %12s %12s\n", "architecture", "dev Pearson", "test Pearson")
	for _, r := range results {
		fmt.Fprintf(&b, "%-16s %12.4f %12.4f\n", r.Arch, r.BestDevPearson, r.TestPearson)
	}
	fmt.Println(tableStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func printDemoScores(results []*semscore.TrainingResult) {
	for _, pair := range demoPairs {
		fmt.Printf("A: %s\nB: %s\n", pair[0], pair[1])
		for _, r := range results {
			score := must.M1(r.Score(pair[0], pair[1]))
			fmt.Printf("\t%-16s scores %.2f / 5\n", r.Arch, score)
		}
	}
}
