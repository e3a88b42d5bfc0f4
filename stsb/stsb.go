// Package stsb downloads and prepares the STS Benchmark: pairs of sentences
// annotated with a semantic similarity score in [0, 5].
//
// Scores are normalized to [0, 1] at ingestion; the original scale is
// recovered at inference time (see package heads).
package stsb

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"

	"github.com/semscore/semscore/downloader"
)

const (
	// DownloadURL points to the official STS Benchmark distribution.
	DownloadURL  = "http://ixa2.si.ehu.eus/stswiki/images/4/48/Stsbenchmark.tar.gz"
	LocalTarFile = "Stsbenchmark.tar.gz"
	LocalDir     = "stsbenchmark"

	// ExternalScale is the maximum of the annotation scale. Labels are stored
	// divided by this value.
	ExternalScale = 5.0
)

// Split identifies one of the three benchmark partitions.
type Split int

const (
	Train Split = iota
	Dev
	Test
)

// String implements fmt.Stringer.
func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Dev:
		return "dev"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

func (s Split) fileName() string {
	return fmt.Sprintf("sts-%s.csv", s)
}

// Example is one annotated sentence pair. Label is the similarity score
// normalized to [0, 1].
type Example struct {
	Sentence1, Sentence2 string
	Label                float32
}

// Corpus holds the three parsed partitions.
type Corpus struct {
	Train, Dev, Test []Example
}

// Split returns the examples of the given partition.
func (c *Corpus) Split(s Split) []Example {
	switch s {
	case Train:
		return c.Train
	case Dev:
		return c.Dev
	case Test:
		return c.Test
	}
	return nil
}

// NormalizeScore maps an annotation from the external [0, 5] scale to [0, 1].
// It errors out on scores outside the annotation scale.
func NormalizeScore(score float64) (float32, error) {
	if score < 0 || score > ExternalScale {
		return 0, errors.Errorf("similarity score %g outside the [0, %g] annotation scale", score, ExternalScale)
	}
	return float32(score / ExternalScale), nil
}

// Download fetches the benchmark archive into baseDir (if not cached) and
// parses the three partitions. Malformed rows abort the parse.
func Download(baseDir string) (*Corpus, error) {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	if !fsutil.MustFileExists(baseDir) {
		if err := os.MkdirAll(baseDir, 0777); err != nil {
			return nil, errors.Wrapf(err, "failed to create data directory %q", baseDir)
		}
	}
	if err := downloader.DownloadAndUntarIfMissing(DownloadURL, baseDir, LocalTarFile, LocalDir, ""); err != nil {
		return nil, errors.WithMessage(err, "stsb.Download failed")
	}
	corpus := &Corpus{}
	for split, target := range map[Split]*[]Example{Train: &corpus.Train, Dev: &corpus.Dev, Test: &corpus.Test} {
		examples, err := parseFile(path.Join(baseDir, LocalDir, split.fileName()))
		if err != nil {
			return nil, errors.WithMessagef(err, "while parsing %q partition", split)
		}
		*target = examples
	}
	return corpus, nil
}

// parseFile reads one tab-separated benchmark file. Each row carries
// genre, file, year, index, score, sentence1, sentence2 (a few rows have
// trailing license columns, which are ignored).
//
// The files contain unbalanced quote characters, so rows are split on tabs
// directly instead of going through a CSV reader.
func parseFile(filePath string) ([]Example, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()

	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}
		example, err := parseRow(line)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s:%d", filePath, lineNum)
		}
		examples = append(examples, example)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading %q", filePath)
	}
	if len(examples) == 0 {
		return nil, errors.Errorf("no examples parsed from %q", filePath)
	}
	return examples, nil
}

func parseRow(line string) (Example, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 7 {
		return Example{}, errors.Errorf("expected at least 7 tab-separated fields, got %d", len(fields))
	}
	score, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Example{}, errors.Wrapf(err, "invalid similarity score %q", fields[4])
	}
	label, err := NormalizeScore(score)
	if err != nil {
		return Example{}, err
	}
	s1, s2 := strings.TrimSpace(fields[5]), strings.TrimSpace(fields[6])
	if s1 == "" || s2 == "" {
		return Example{}, errors.New("empty sentence field")
	}
	return Example{Sentence1: s1, Sentence2: s2, Label: label}, nil
}

// ScoreSummary returns per-partition count, mean and standard deviation of the
// normalized labels, as a printable dataframe.
func (c *Corpus) ScoreSummary() dataframe.DataFrame {
	names := make([]string, 0, 3)
	counts := make([]int, 0, 3)
	means := make([]float64, 0, 3)
	stddevs := make([]float64, 0, 3)
	for _, split := range []Split{Train, Dev, Test} {
		examples := c.Split(split)
		labels := make([]float64, len(examples))
		for i, example := range examples {
			labels[i] = float64(example.Label)
		}
		s := series.Floats(labels)
		names = append(names, split.String())
		counts = append(counts, len(examples))
		means = append(means, s.Mean())
		stddevs = append(stddevs, s.StdDev())
	}
	return dataframe.New(
		series.New(names, series.String, "split"),
		series.New(counts, series.Int, "examples"),
		series.New(means, series.Float, "label_mean"),
		series.New(stddevs, series.Float, "label_stddev"),
	)
}
