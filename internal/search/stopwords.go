package search

// Multilingual stop words dropped before tokenization. Kept small on
// purpose: a missed stop word costs one useless token, an overzealous
// list makes short queries unanswerable.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// English
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to",
		"for", "of", "with", "by", "from", "is", "are", "was", "were",
		"be", "been", "it", "its", "this", "that", "as", "not",
		// Spanish
		"el", "la", "los", "las", "un", "una", "y", "o", "de", "del",
		"en", "que", "es", "por", "con", "para",
		// French
		"le", "les", "des", "et", "ou", "au", "aux", "ce", "ces",
		"dans", "sur", "pour", "pas", "est",
		// German
		"der", "die", "das", "und", "oder", "ein", "eine", "zu", "im",
		"mit", "auf", "ist", "nicht", "von",
	} {
		stopWords[w] = struct{}{}
	}
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}
