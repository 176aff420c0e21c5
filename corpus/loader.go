// Package corpus reads the aggregated article files a deduplication run works on.
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"digestbot/deduplication"
	"digestbot/types"
)

// Options controls how a corpus directory is read.
type Options struct {
	// SkipCorrupt skips (and logs) files that are not a JSON array of article objects
	// instead of failing the load. A skipped file contributes nothing.
	SkipCorrupt bool
	Logger      *zerolog.Logger
}

// Corpus is the concatenation of every article file in a directory.
// Texts[i] is the comparison text of Articles[i].
type Corpus struct {
	Texts    []string
	Articles []types.Article
	Files    []string
	Skipped  []string
}

// Len returns the number of articles loaded.
func (c *Corpus) Len() int { return len(c.Articles) }

// Load reads every *.json file directly inside dir, in lexical file name order,
// keeping each file's internal order. A missing directory is an empty corpus.
func Load(dir string, opts Options) (*Corpus, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Corpus{Texts: []string{}, Articles: []types.Article{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("dir", dir).Msg("corpus directory does not exist; nothing to load")
			return c, nil
		}
		return nil, fmt.Errorf("read corpus directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		articles, err := ReadFile(path)
		if err != nil {
			if opts.SkipCorrupt && errors.Is(err, deduplication.ErrInputCorrupt) {
				logger.Warn().Err(err).Str("file", path).Msg("skipping corrupt corpus file")
				c.Skipped = append(c.Skipped, path)
				continue
			}
			return nil, err
		}

		for _, a := range articles {
			c.Texts = append(c.Texts, a.ComparisonText())
			c.Articles = append(c.Articles, a)
		}
		c.Files = append(c.Files, path)
		logger.Debug().Str("file", path).Int("articles", len(articles)).Msg("loaded corpus file")
	}

	logger.Info().Int("files", len(c.Files)).Int("articles", c.Len()).Msg("corpus loaded")
	return c, nil
}

// ReadFile parses one corpus file in full. Either every article is returned or an
// error wrapping ErrInputCorrupt is, never a partial list.
func ReadFile(path string) ([]types.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a JSON array of article objects. name is used in error messages.
func Parse(data []byte, name string) ([]types.Article, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %s: top-level value is not a JSON array", deduplication.ErrInputCorrupt, name)
	}

	var articles []types.Article
	if err := json.Unmarshal(trimmed, &articles); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", deduplication.ErrInputCorrupt, name, err)
	}
	if articles == nil {
		articles = []types.Article{}
	}
	return articles, nil
}
