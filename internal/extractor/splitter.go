package extractor

import "strings"

// Splitter cuts text into chunks of at most chunkSize runes, preferring
// paragraph, newline, sentence and word boundaries before falling back to
// hard rune cuts. Consecutive chunks share a trailing window of roughly
// chunkOverlap runes so meaning spanning a boundary survives retrieval.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 8
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   []string{"\n\n", "\n", ". ", " ", ""},
	}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= s.chunkSize {
		return []string{text}
	}
	return s.merge(s.splitRecursive(text, s.separators))
}

// splitRecursive returns pieces no longer than chunkSize, splitting at the
// first separator present in the text and recursing with finer separators
// for any piece still too long.
func (s *Splitter) splitRecursive(text string, separators []string) []string {
	if text == "" {
		return nil
	}
	if runeLen(text) <= s.chunkSize {
		return []string{text}
	}

	sep, finer := pickSeparator(text, separators)
	if sep == "" {
		return s.hardCut(text)
	}

	var pieces []string
	for _, piece := range splitAfter(text, sep) {
		if runeLen(piece) > s.chunkSize {
			pieces = append(pieces, s.splitRecursive(piece, finer)...)
			continue
		}
		pieces = append(pieces, piece)
	}
	return pieces
}

// merge greedily packs pieces into chunks of at most chunkSize runes,
// carrying a tail window of at most chunkOverlap runes into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, piece := range pieces {
		length := runeLen(piece)
		if total+length > s.chunkSize && total > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.chunkOverlap && len(window) > 0 {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += length
	}
	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// hardCut slices text into fixed rune windows stepping chunkSize-chunkOverlap.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.chunkOverlap
	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// pickSeparator returns the first separator occurring in text plus the finer
// separators after it. The empty separator always matches.
func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// splitAfter splits text at sep keeping the separator attached to the
// preceding piece, so joining pieces reproduces the input.
func splitAfter(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
