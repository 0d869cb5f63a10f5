// Package library reads and writes the on-disk book folders the control app
// edits: description, settings, world-building notes, glossary, raw scraped
// chapters and translated chapters.
//
// Layout under the books directory:
//
//	<book>/
//	    description.txt
//	    settings.json
//	    world-building.json
//	    glossary.json              array of entries
//	    glossary.txt               legacy, converted on import
//	    chapters_raw/_raw_data.json
//	    chapters_translated/<title>.json   {title, sourceUrl, content}
//	    chapters_translated/<title>.txt    legacy, content only
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

var (
	// ErrBookExists is returned by Create when the folder is already there.
	ErrBookExists = errors.New("book already exists")

	// ErrInvalidName is returned for names that are empty or would leave
	// the books directory.
	ErrInvalidName = errors.New("invalid book name")

	// ErrNoRoot is returned when no books directory has been configured.
	ErrNoRoot = errors.New("books directory path is not set")
)

const (
	descriptionFile   = "description.txt"
	settingsFile      = "settings.json"
	worldBuildingFile = "world-building.json"
	glossaryJSONFile  = "glossary.json"
	glossaryTextFile  = "glossary.txt"
	rawDir            = "chapters_raw"
	rawDataFile       = "_raw_data.json"
	translatedDir     = "chapters_translated"

	maxFilenameStem = 100
)

// Chapter is one translated chapter. Legacy text chapters have no SourceURL.
type Chapter struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
	Content   string `json:"content"`
}

// Book is everything Import reads for one folder. Settings, WorldBuilding
// and RawChapterData are passed through as the control app wrote them.
type Book struct {
	Glossary       map[string]json.RawMessage `json:"glossary"`
	Chapters       []Chapter                  `json:"chapters"`
	RawChapterData json.RawMessage            `json:"rawChapterData"`
	Description    string                     `json:"description"`
	Settings       json.RawMessage            `json:"settings"`
	WorldBuilding  json.RawMessage            `json:"worldBuilding"`
}

// BookData is a partial update for Save. Only the fields present are
// written; a nil field (or a JSON null) leaves the file on disk alone.
type BookData struct {
	Description    *string                    `json:"description"`
	Settings       json.RawMessage            `json:"settings"`
	WorldBuilding  json.RawMessage            `json:"worldBuilding"`
	Glossary       map[string]json.RawMessage `json:"glossary"`
	RawChapterData json.RawMessage            `json:"rawChapterData"`
	Chapters       []Chapter                  `json:"chapters"`
}

// Library operates on the book folders below one root directory.
type Library struct {
	root   string
	logger *slog.Logger
}

// New returns a Library rooted at root. It fails with ErrNoRoot when root
// is empty.
func New(root string, logger *slog.Logger) (*Library, error) {
	if root == "" {
		return nil, ErrNoRoot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{root: root, logger: logger}, nil
}

// Root returns the books directory.
func (l *Library) Root() string { return l.root }

func (l *Library) bookPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

// Create makes an empty book folder with its chapter directories and an
// empty settings.json, and returns the folder path.
func (l *Library) Create(name string) (string, error) {
	dir, err := l.bookPath(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: %q", ErrBookExists, name)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat book: %w", err)
	}

	for _, sub := range []string{rawDir, translatedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create book %q: %w", name, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, settingsFile), struct{}{}); err != nil {
		return "", fmt.Errorf("create book %q: %w", name, err)
	}
	l.logger.Info("created book folder", slog.String("path", dir))
	return dir, nil
}

// Save writes the fields present in data, creating the folder if needed.
// Translated chapters are written one file per chapter, named after the
// title; chapters not in data are left untouched.
func (l *Library) Save(name string, data BookData) error {
	dir, err := l.bookPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save book %q: %w", name, err)
	}

	if data.Description != nil {
		if err := os.WriteFile(filepath.Join(dir, descriptionFile), []byte(*data.Description), 0o644); err != nil {
			return fmt.Errorf("save description: %w", err)
		}
	}
	if present(data.Settings) {
		if err := writeJSON(filepath.Join(dir, settingsFile), data.Settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	if present(data.WorldBuilding) {
		if err := writeJSON(filepath.Join(dir, worldBuildingFile), data.WorldBuilding); err != nil {
			return fmt.Errorf("save world-building: %w", err)
		}
	}
	if data.Glossary != nil {
		if err := writeJSON(filepath.Join(dir, glossaryJSONFile), glossaryArray(data.Glossary)); err != nil {
			return fmt.Errorf("save glossary: %w", err)
		}
	}
	if present(data.RawChapterData) {
		if err := l.writeRaw(dir, data.RawChapterData); err != nil {
			return err
		}
	}
	if data.Chapters != nil {
		chapters := filepath.Join(dir, translatedDir)
		if err := os.MkdirAll(chapters, 0o755); err != nil {
			return fmt.Errorf("save chapters: %w", err)
		}
		for _, ch := range data.Chapters {
			if err := writeJSON(filepath.Join(chapters, SafeFilename(ch.Title)), ch); err != nil {
				return fmt.Errorf("save chapter %q: %w", ch.Title, err)
			}
		}
	}

	l.logger.Info("saved book", slog.String("book", name))
	return nil
}

// SaveRawChapters replaces the book's raw scraped chapter data.
func (l *Library) SaveRawChapters(name string, raw json.RawMessage) error {
	dir, err := l.bookPath(name)
	if err != nil {
		return err
	}
	if !present(raw) {
		raw = json.RawMessage(`[]`)
	}
	return l.writeRaw(dir, raw)
}

func (l *Library) writeRaw(dir string, raw json.RawMessage) error {
	rawPath := filepath.Join(dir, rawDir)
	if err := os.MkdirAll(rawPath, 0o755); err != nil {
		return fmt.Errorf("save raw chapters: %w", err)
	}
	if err := writeJSON(filepath.Join(rawPath, rawDataFile), raw); err != nil {
		return fmt.Errorf("save raw chapters: %w", err)
	}
	return nil
}

// Delete removes the book folder and everything in it. A missing folder is
// not an error.
func (l *Library) Delete(name string) error {
	dir, err := l.bookPath(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete book %q: %w", name, err)
	}
	l.logger.Info("deleted book folder", slog.String("path", dir))
	return nil
}

// DeleteRawChapters removes the raw data file and reports whether there was
// one to remove.
func (l *Library) DeleteRawChapters(name string) (bool, error) {
	dir, err := l.bookPath(name)
	if err != nil {
		return false, err
	}
	err = os.Remove(filepath.Join(dir, rawDir, rawDataFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("delete raw chapters: %w", err)
	}
	return true, nil
}

// Import reads every book folder under the root, keyed by folder name.
//
// Missing or unreadable description, settings and world-building files
// fall back to empty values, as does unparsable raw chapter data. A
// glossary.txt without a glossary.json is converted and the JSON version
// written next to it. A malformed glossary.json or chapter file fails the
// import.
func (l *Library) Import() (map[string]Book, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read books directory: %w", err)
	}

	books := make(map[string]Book)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		book, err := l.load(filepath.Join(l.root, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		books[e.Name()] = book
	}
	return books, nil
}

func (l *Library) load(dir, name string) (Book, error) {
	book := Book{
		Glossary:       make(map[string]json.RawMessage),
		Chapters:       []Chapter{},
		RawChapterData: json.RawMessage(`[]`),
		Settings:       json.RawMessage(`{}`),
		WorldBuilding:  json.RawMessage(`{}`),
	}

	if b, err := os.ReadFile(filepath.Join(dir, descriptionFile)); err == nil {
		book.Description = string(b)
	}
	if b, ok := readJSONFile(filepath.Join(dir, settingsFile)); ok {
		book.Settings = b
	}
	if b, ok := readJSONFile(filepath.Join(dir, worldBuildingFile)); ok {
		book.WorldBuilding = b
	}

	rawPath := filepath.Join(dir, rawDir, rawDataFile)
	if b, err := os.ReadFile(rawPath); err == nil {
		if json.Valid(b) {
			book.RawChapterData = b
		} else {
			l.logger.Error("failed to load raw chapters", slog.String("book", name))
		}
	}

	if err := l.loadGlossary(dir, name, book.Glossary); err != nil {
		return Book{}, err
	}

	chapters, err := loadChapters(filepath.Join(dir, translatedDir))
	if err != nil {
		return Book{}, fmt.Errorf("book %q: %w", name, err)
	}
	book.Chapters = chapters
	return book, nil
}

func (l *Library) loadGlossary(dir, name string, into map[string]json.RawMessage) error {
	jsonPath := filepath.Join(dir, glossaryJSONFile)
	b, err := os.ReadFile(jsonPath)
	if err == nil {
		var entries []json.RawMessage
		if err := json.Unmarshal(b, &entries); err != nil {
			return fmt.Errorf("book %q: parse glossary: %w", name, err)
		}
		for _, raw := range entries {
			var head struct {
				Term string `json:"term"`
			}
			if json.Unmarshal(raw, &head) == nil && head.Term != "" {
				into[head.Term] = raw
			}
		}
		return nil
	}

	text, err := os.ReadFile(filepath.Join(dir, glossaryTextFile))
	if err != nil {
		return nil
	}
	parsed := ParseGlossaryText(string(text))
	for _, entry := range parsed {
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		into[entry.Term] = raw
	}
	if parsed == nil {
		parsed = []GlossaryEntry{}
	}
	if err := writeJSON(jsonPath, parsed); err != nil {
		l.logger.Error("could not write glossary.json", slog.String("book", name), slog.Any("error", err))
	} else {
		l.logger.Info("converted glossary.txt to glossary.json", slog.String("book", name))
	}
	return nil
}

// loadChapters reads translated chapters in file name order. Chapters are
// keyed by title: a later file with the same title replaces the earlier
// one but keeps its position.
func loadChapters(dir string) ([]Chapter, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Chapter{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chapters: %w", err)
	}

	chapters := []Chapter{}
	index := make(map[string]int)
	add := func(ch Chapter) {
		if i, ok := index[ch.Title]; ok {
			chapters[i] = ch
			return
		}
		index[ch.Title] = len(chapters)
		chapters = append(chapters, ch)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		switch filepath.Ext(e.Name()) {
		case ".json":
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read chapter %s: %w", e.Name(), err)
			}
			var ch Chapter
			if err := json.Unmarshal(b, &ch); err != nil {
				return nil, fmt.Errorf("parse chapter %s: %w", e.Name(), err)
			}
			add(ch)
		case ".txt":
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read chapter %s: %w", e.Name(), err)
			}
			add(Chapter{Title: strings.TrimSuffix(e.Name(), ".txt"), Content: string(b)})
		}
	}
	return chapters, nil
}

// SafeFilename turns a chapter title into a file name: characters that are
// not allowed in file names become "_" and the stem is capped at 100
// characters.
func SafeFilename(title string) string {
	stem := []rune(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, title))
	if len(stem) > maxFilenameStem {
		stem = stem[:maxFilenameStem]
	}
	return string(stem) + ".json"
}

// glossaryArray flattens the term-keyed glossary into the on-disk array,
// ordered by term.
func glossaryArray(glossary map[string]json.RawMessage) []json.RawMessage {
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	slices.Sort(terms)

	out := make([]json.RawMessage, 0, len(terms))
	for _, term := range terms {
		out = append(out, glossary[term])
	}
	return out
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func readJSONFile(path string) (json.RawMessage, bool) {
	b, err := os.ReadFile(path)
	if err != nil || !json.Valid(b) {
		return nil, false
	}
	return b, true
}

// writeJSON writes v indented by two spaces.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
