// Package universe resolves the list of symbols a run covers.
package universe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Source yields the symbols to process
type Source interface {
	Symbols(ctx context.Context) ([]string, error)
}

// symbolEntry carries the validation rules for one symbol
type symbolEntry struct {
	Symbol string `validate:"required,max=32,printascii,excludesall=0x2C0x7C"`
}

var validate = validator.New()

// ValidateSymbol checks that s is a usable symbol identifier
func ValidateSymbol(s string) error {
	if err := validate.Struct(symbolEntry{Symbol: s}); err != nil {
		return fmt.Errorf("invalid symbol %q: %w", s, err)
	}
	return nil
}

// Normalize trims, validates, dedups and sorts a symbol list. The first
// invalid symbol aborts with an error.
func Normalize(symbols []string) ([]string, error) {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if err := ValidateSymbol(s); err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// Static is a fixed symbol list
type Static []string

// Symbols implements Source
func (s Static) Symbols(context.Context) ([]string, error) {
	return Normalize(s)
}

// ParseList splits a comma or whitespace separated symbol list
func ParseList(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == ';'
	})
}
