package library

import (
	"strings"
)

// GlossaryEntry is one term decision in a book's glossary.
type GlossaryEntry struct {
	Term              string `json:"term"`
	Pinyin            string `json:"pinyin"`
	Category          string `json:"category"`
	ChosenRendition   string `json:"chosenRendition"`
	DecisionRationale string `json:"decisionRationale"`
	ExcludedRendition string `json:"excludedRendition"`
	ExcludedRationale string `json:"excludedRationale"`
	Notes             string `json:"notes"`
}

const glossaryBlockSeparator = "\n---\n"

// ParseGlossaryText reads the legacy glossary.txt format: blocks separated
// by a line holding "---", each block a set of "Key: value" lines. Keys
// match regardless of case and underscores, so "Chosen_Rendition" and
// "chosenrendition" are the same field. Blocks without a term are skipped.
// A later block for the same term replaces the earlier one in place.
func ParseGlossaryText(content string) []GlossaryEntry {
	var (
		entries []GlossaryEntry
		index   = make(map[string]int)
	)
	for _, block := range strings.Split(content, glossaryBlockSeparator) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		entry := parseGlossaryBlock(block)
		if entry.Term == "" {
			continue
		}
		if i, ok := index[entry.Term]; ok {
			entries[i] = entry
			continue
		}
		index[entry.Term] = len(entries)
		entries = append(entries, entry)
	}
	return entries
}

func parseGlossaryBlock(block string) GlossaryEntry {
	var entry GlossaryEntry
	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		switch normalizeKey(key) {
		case "term":
			entry.Term = value
		case "pinyin":
			entry.Pinyin = value
		case "category":
			entry.Category = value
		case "chosenrendition":
			entry.ChosenRendition = value
		case "decisionrationale":
			entry.DecisionRationale = value
		case "excludedrendition":
			entry.ExcludedRendition = value
		case "excludedrationale":
			entry.ExcludedRationale = value
		case "notes":
			entry.Notes = value
		}
	}
	return entry
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "")
}
