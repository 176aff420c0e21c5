// Package contracts validates the JSON files that stages hand to each other.
package contracts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// sampleSize is how many leading items EnsureArticleFields inspects.
	sampleSize = 20
	// maxReported caps the missing fields listed in an error.
	maxReported = 10
)

// DedupOutputFields are the keys every unique article must carry.
var DedupOutputFields = []string{"title", "url", "published_date", "source_platform", "content"}

// DedupOutputMinCount is the fewest unique articles a healthy run hands downstream.
const DedupOutputMinCount = 5

// ContractError is a violated stage contract.
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string { return "contract: " + e.Msg }

func violation(format string, args ...any) error {
	return &ContractError{Msg: fmt.Sprintf(format, args...)}
}

// IsContractError reports whether err is a contract violation.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// RequireFile fails unless path exists and is a regular file.
func RequireFile(path, hint string) error {
	info, err := os.Stat(path)
	if err != nil {
		msg := fmt.Sprintf("missing required file: %s", path)
		if hint != "" {
			msg += " (hint: " + hint + ")"
		}
		return violation("%s", msg)
	}
	if info.IsDir() {
		return violation("expected a file but found directory: %s", path)
	}
	return nil
}

// LoadJSONArray reads path and returns the elements of its top-level JSON array.
func LoadJSONArray(path string) ([]gjson.Result, error) {
	if err := RequireFile(path, "upstream stage may have failed"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, violation("cannot read %s: %v", path, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, violation("invalid JSON in %s", path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, violation("expected JSON array in %s", path)
	}
	return doc.Array(), nil
}

// EnsureArticleFields checks that the first items carry every required key.
// Empty and null values are allowed; only absent keys are violations.
func EnsureArticleFields(items []gjson.Result, required []string) error {
	type miss struct {
		item int
		key  string
	}
	var missing []miss
	for i, it := range items {
		if i >= sampleSize {
			break
		}
		for _, k := range required {
			if !it.IsObject() || !it.Get(k).Exists() {
				missing = append(missing, miss{i, k})
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	shown := min(len(missing), maxReported)
	var b strings.Builder
	b.WriteString("some items are missing required fields:")
	for _, m := range missing[:shown] {
		fmt.Fprintf(&b, "\n - item[%d] missing %q", m.item, m.key)
	}
	fmt.Fprintf(&b, "\n(showed first %d of %d)", shown, len(missing))
	return violation("%s", b.String())
}

// EnsureMinCount fails when items has fewer than minItems entries.
func EnsureMinCount(items []gjson.Result, minItems int, where string) error {
	if len(items) < minItems {
		return violation("too few items in %s: got %d, need >= %d", where, len(items), minItems)
	}
	return nil
}

// CheckDedupOutput applies the unique articles contract to path and returns the item count.
func CheckDedupOutput(path string) (int, error) {
	items, err := LoadJSONArray(path)
	if err != nil {
		return 0, err
	}
	if err := EnsureArticleFields(items, DedupOutputFields); err != nil {
		return len(items), err
	}
	if err := EnsureMinCount(items, DedupOutputMinCount, path); err != nil {
		return len(items), err
	}
	return len(items), nil
}
