package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lehigh-university-libraries/htr-prep/internal/config"
	"github.com/lehigh-university-libraries/htr-prep/internal/models"
	"github.com/lehigh-university-libraries/htr-prep/internal/services/preprocess"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
)

const (
	wordsFile       = "words.txt"
	minRecordFields = 9
	trainSplit      = 0.95
	emptyMarker     = "empty-"
)

var (
	ErrMalformedRecord = errors.New("malformed words.txt record")
	ErrNoSamples       = errors.New("dataset contains no samples")
)

// Decoder reads an image file as grayscale.
type Decoder func(path string) (*image.Gray, error)

type Options struct {
	Roots         []string
	Format        string
	BatchSize     int
	ImageSize     image.Point
	MaxTextLength int
	IsTest        bool
	// Extensions lists the file suffixes picked up in flat mode. Defaults to .jpg.
	Extensions   []string
	Rand         *rand.Rand
	Preprocessor preprocess.Preprocessor
	Decoder      Decoder
}

// Loader owns the sample lists of a dataset and hands out iterators over
// them. Sample lists are fixed after construction except for the shuffles
// done by TrainSet.
type Loader struct {
	opts Options
	rng  *rand.Rand

	samples           []models.Sample
	trainSamples      []models.Sample
	validationSamples []models.Sample
	charList          []rune

	// NumTrainSamplesPerEpoch bounds how many training samples one
	// TrainSet pass serves.
	NumTrainSamplesPerEpoch int
}

func NewLoader(opts Options) (*Loader, error) {
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("at least one dataset root is required")
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.MaxTextLength < 1 {
		return nil, fmt.Errorf("max text length must be positive, got %d", opts.MaxTextLength)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".jpg"}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(0, 0))
	}
	if opts.Preprocessor == nil {
		opts.Preprocessor = preprocess.New(opts.Rand)
	}
	if opts.Decoder == nil {
		opts.Decoder = utils.LoadGray
	}

	l := &Loader{opts: opts, rng: opts.Rand}

	var err error
	switch opts.Format {
	case config.FormatIAM:
		if len(opts.Roots) > 1 {
			return nil, fmt.Errorf("%s format reads a single root, got %d", config.FormatIAM, len(opts.Roots))
		}
		l.samples, err = readIAM(opts.Roots[0], opts.MaxTextLength)
	case config.FormatFlat:
		l.samples, err = readFlat(opts.Roots, opts.Extensions)
	default:
		return nil, fmt.Errorf("unknown dataset format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	if len(l.samples) == 0 {
		return nil, fmt.Errorf("%w: roots %v", ErrNoSamples, opts.Roots)
	}

	l.charList = Vocabulary(l.samples)
	l.split()
	l.NumTrainSamplesPerEpoch = len(l.trainSamples)

	if opts.IsTest {
		slog.Info("Loaded test samples", "validation", len(l.validationSamples))
	} else {
		slog.Info("Loaded samples", "train", len(l.trainSamples), "validation", len(l.validationSamples))
	}
	return l, nil
}

// readIAM parses <root>/words.txt. A record's id a-b-c maps to the image
// <root>/words/a/a-b/a-b-c.png and its text is every field from the ninth on.
func readIAM(root string, maxTextLength int) ([]models.Sample, error) {
	path := filepath.Join(root, wordsFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var samples []models.Sample
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, " ")
		if len(fields) < minRecordFields {
			return nil, fmt.Errorf("%w: %s line %d has %d fields, want at least %d",
				ErrMalformedRecord, path, lineNo, len(fields), minRecordFields)
		}

		id := fields[0]
		parts := strings.Split(id, "-")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: %s line %d has id %q without a dash", ErrMalformedRecord, path, lineNo, id)
		}
		file := filepath.Join(root, "words", parts[0], parts[0]+"-"+parts[1], id+".png")

		samples = append(samples, models.Sample{
			GroundTruthText: truncate(strings.Join(fields[8:], " "), maxTextLength),
			FilePath:        file,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return samples, nil
}

// readFlat collects every image under roots. The text is the file stem, or a
// single space for files whose name marks them as intentionally blank.
func readFlat(roots, extensions []string) ([]models.Sample, error) {
	var samples []models.Sample
	for _, root := range roots {
		var files []string
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !slices.Contains(extensions, filepath.Ext(path)) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
		slices.Sort(files)

		for _, file := range files {
			name := filepath.Base(file)
			text := strings.TrimSuffix(name, filepath.Ext(name))
			if strings.Contains(name, emptyMarker) {
				text = " "
			}
			samples = append(samples, models.Sample{GroundTruthText: text, FilePath: file})
		}
	}
	return samples, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (l *Loader) split() {
	if l.opts.IsTest {
		// hyphenated words are not part of the trained alphabet
		for _, s := range l.samples {
			if !strings.Contains(s.GroundTruthText, "-") {
				l.validationSamples = append(l.validationSamples, s)
			}
		}
		return
	}

	shuffled := slices.Clone(l.samples)
	l.shuffle(shuffled)
	idx := int(trainSplit * float64(len(shuffled)))
	l.trainSamples = shuffled[:idx]
	l.validationSamples = shuffled[idx:]
}

func (l *Loader) shuffle(samples []models.Sample) {
	l.rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
}

// Vocabulary returns the sorted distinct characters of all ground truth texts.
func Vocabulary(samples []models.Sample) []rune {
	seen := make(map[rune]struct{})
	for _, s := range samples {
		for _, r := range s.GroundTruthText {
			seen[r] = struct{}{}
		}
	}
	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	slices.Sort(chars)
	return chars
}

func (l *Loader) CharList() []rune {
	return slices.Clone(l.charList)
}

func (l *Loader) Samples() []models.Sample {
	return slices.Clone(l.samples)
}

// TrainSet reshuffles the training samples and returns an augmenting
// iterator over the first NumTrainSamplesPerEpoch of them.
func (l *Loader) TrainSet() *Iterator {
	l.shuffle(l.trainSamples)
	n := min(l.NumTrainSamplesPerEpoch, len(l.trainSamples))
	return l.newIterator(slices.Clone(l.trainSamples[:n]), true)
}

// ValidationSet returns an iterator over the validation samples in fixed order.
func (l *Loader) ValidationSet() *Iterator {
	return l.newIterator(slices.Clone(l.validationSamples), false)
}

func (l *Loader) newIterator(samples []models.Sample, augment bool) *Iterator {
	return &Iterator{
		samples:      samples,
		batchSize:    l.opts.BatchSize,
		imageSize:    l.opts.ImageSize,
		augment:      augment,
		preprocessor: l.opts.Preprocessor,
		decoder:      l.opts.Decoder,
	}
}

func (l *Loader) TrainWords() []string {
	return texts(l.trainSamples)
}

func (l *Loader) ValidationWords() []string {
	return texts(l.validationSamples)
}

func texts(samples []models.Sample) []string {
	words := make([]string, len(samples))
	for i, s := range samples {
		words[i] = s.GroundTruthText
	}
	return words
}

// WriteCharList stores the vocabulary as one line of concatenated characters.
func (l *Loader) WriteCharList(path string) error {
	return utils.WriteTextFile(path, string(l.charList))
}

// WriteCorpus stores all train and validation words joined by spaces.
func (l *Loader) WriteCorpus(path string) error {
	words := append(l.TrainWords(), l.ValidationWords()...)
	return utils.WriteTextFile(path, strings.Join(words, " "))
}
