package metrics

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrNoGroundTruth = errors.New("no ground truth characters to score against")

var whitespace = regexp.MustCompile(`\s+`)

// EvalResult compares one recognized string with its ground truth.
type EvalResult struct {
	Identifier            string  `json:"identifier,omitempty"`
	GroundTruth           string  `json:"ground_truth"`
	Recognized            string  `json:"recognized"`
	CharacterDistance     int     `json:"character_distance"`
	CharacterErrorRate    float64 `json:"character_error_rate"`
	CharacterSimilarity   float64 `json:"character_similarity"`
	WordSimilarity        float64 `json:"word_similarity"`
	WordAccuracy          float64 `json:"word_accuracy"`
	WordErrorRate         float64 `json:"word_error_rate"`
	ExactMatch            bool    `json:"exact_match"`
	TotalWordsOriginal    int     `json:"total_words_original"`
	TotalWordsTranscribed int     `json:"total_words_transcribed"`
	CorrectWords          int     `json:"correct_words"`
	Substitutions         int     `json:"substitutions"`
	Deletions             int     `json:"deletions"`
	Insertions            int     `json:"insertions"`
}

// CalculateAccuracyMetrics scores transcribed against original. The raw
// character distance and exact match use the strings as given; similarities
// and word metrics are computed on lower-cased, whitespace-normalized text.
func CalculateAccuracyMetrics(original, transcribed string) EvalResult {
	dist := Levenshtein(original, transcribed)
	cer := 0.0
	if n := utf8.RuneCountInString(original); n > 0 {
		cer = float64(dist) / float64(n)
	}

	origNorm := normalizeText(original)
	transNorm := normalizeText(transcribed)
	origWords := strings.Fields(origNorm)
	transWords := strings.Fields(transNorm)
	wordAcc, correct, subs, dels, ins := calculateWordLevelMetrics(origWords, transWords)

	return EvalResult{
		GroundTruth:           original,
		Recognized:            transcribed,
		CharacterDistance:     dist,
		CharacterErrorRate:    cer,
		CharacterSimilarity:   calculateSimilarity(origNorm, transNorm),
		WordSimilarity:        calculateSimilarity(strings.Join(origWords, " "), strings.Join(transWords, " ")),
		WordAccuracy:          wordAcc,
		WordErrorRate:         1.0 - wordAcc,
		ExactMatch:            original == transcribed,
		TotalWordsOriginal:    len(origWords),
		TotalWordsTranscribed: len(transWords),
		CorrectWords:          correct,
		Substitutions:         subs,
		Deletions:             dels,
		Insertions:            ins,
	}
}

func normalizeText(text string) string {
	text = whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.ToLower(text)
}

// Levenshtein is the edit distance between s1 and s2 counted in runes.
func Levenshtein(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	len1, len2 := len(r1), len(r2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				min(prev[j]+1, curr[j-1]+1),
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}

	return prev[len2]
}

func calculateSimilarity(s1, s2 string) float64 {
	maxLen := max(utf8.RuneCountInString(s1), utf8.RuneCountInString(s2))
	if maxLen == 0 {
		return 1.0
	}
	distance := Levenshtein(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}

func calculateWordLevelMetrics(orig, trans []string) (float64, int, int, int, int) {
	m, n := len(orig), len(trans)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 0; i <= m; i++ {
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if orig[i-1] == trans[j-1] {
				dp[i][j] = dp[i-1][j-1]
			} else {
				dp[i][j] = 1 + min(
					min(dp[i-1][j], dp[i][j-1]),
					dp[i-1][j-1],
				)
			}
		}
	}

	i, j := m, n
	substitutions, deletions, insertions, correct := 0, 0, 0, 0

	for i > 0 || j > 0 {
		if i > 0 && j > 0 && orig[i-1] == trans[j-1] {
			correct++
			i--
			j--
		} else if i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+1 {
			substitutions++
			i--
			j--
		} else if i > 0 && dp[i][j] == dp[i-1][j]+1 {
			deletions++
			i--
		} else {
			insertions++
			j--
		}
	}

	wer := 0.0
	if m > 0 {
		wer = float64(substitutions+deletions+insertions) / float64(m)
	}

	return 1.0 - wer, correct, substitutions, deletions, insertions
}

// Tally accumulates character and word errors over a validation pass.
type Tally struct {
	CharErrors int
	CharTotal  int
	WordsOK    int
	WordsTotal int
}

// Add scores one recognized word and returns its character edit distance.
func (t *Tally) Add(groundTruth, recognized string) int {
	dist := Levenshtein(recognized, groundTruth)
	t.CharErrors += dist
	t.CharTotal += utf8.RuneCountInString(groundTruth)
	t.WordsTotal++
	if dist == 0 {
		t.WordsOK++
	}
	return dist
}

// CharacterErrorRate is the summed edit distance over the summed ground
// truth length.
func (t Tally) CharacterErrorRate() (float64, error) {
	if t.CharTotal == 0 {
		return 0, ErrNoGroundTruth
	}
	return float64(t.CharErrors) / float64(t.CharTotal), nil
}

// WordAccuracy is the share of exactly recognized words, 0 for an empty tally.
func (t Tally) WordAccuracy() float64 {
	if t.WordsTotal == 0 {
		return 0
	}
	return float64(t.WordsOK) / float64(t.WordsTotal)
}
