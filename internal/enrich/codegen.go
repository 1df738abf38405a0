package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/lab-inventory/internal/model"
	"github.com/sells-group/lab-inventory/internal/schema"
)

// CodeGenerator issues item codes of the form PREFIX-NNN. The prefix is the
// first letter of each of the first two words of the item name (the first
// two letters for a one-word name); the number is a per-prefix sequence that
// skips codes already taken.
type CodeGenerator struct {
	taken map[string]bool
	next  map[string]int
}

// NewCodeGenerator reserves the given codes (compared case-insensitively).
func NewCodeGenerator(taken []string) *CodeGenerator {
	g := &CodeGenerator{
		taken: make(map[string]bool, len(taken)),
		next:  make(map[string]int),
	}
	for _, c := range taken {
		g.Reserve(c)
	}
	return g
}

// Reserve marks code as taken.
func (g *CodeGenerator) Reserve(code string) {
	if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
		g.taken[code] = true
	}
}

// Next returns a fresh code for name and reserves it.
func (g *CodeGenerator) Next(name string) string {
	prefix := CodePrefix(name)
	n := g.next[prefix]
	for {
		n++
		code := fmt.Sprintf("%s-%03d", prefix, n)
		if !g.taken[code] {
			g.next[prefix] = n
			g.taken[code] = true
			return code
		}
	}
}

// CodePrefix derives the code prefix from an item name.
func CodePrefix(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	switch {
	case len(words) >= 2:
		b.WriteRune(firstRune(words[0]))
		b.WriteRune(firstRune(words[1]))
	case len(words) == 1:
		r := []rune(words[0])
		b.WriteString(string(r[:min(2, len(r))]))
	default:
		return "IT"
	}
	return strings.ToUpper(b.String())
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 'X'
}

// CodeChecker returns the subset of values present in column.
type CodeChecker interface {
	ExistsAny(ctx context.Context, column string, values []string) ([]string, error)
}

// Limits for avoidStoredCodes.
const (
	codeCheckChunkSize = 100
	maxCodeCheckRounds = 1000
)

// avoidStoredCodes replaces generated item codes that already exist in the
// store, checking the replacements again until none collide. A failed check
// keeps the current codes; the committer's conflict handling still applies.
func avoidStoredCodes(ctx context.Context, checker CodeChecker, cands []candidate, recs map[int]*model.EnrichmentRecord, gen *CodeGenerator) error {
	type generated struct {
		index int
		name  string
		code  string
	}
	var pending []generated
	for _, c := range cands {
		v, ok := recs[c.index].Get(schema.FieldItemCode)
		if !ok || v.Source != model.SourceAuto {
			continue
		}
		code, _ := v.Value.(string)
		pending = append(pending, generated{index: c.index, name: c.item.Name, code: code})
	}

	for round := 0; len(pending) > 0; round++ {
		if round == maxCodeCheckRounds {
			zap.L().Warn("enrich: generated item codes still collide, keeping them", zap.Int("codes", len(pending)))
			return nil
		}
		codes := make([]string, len(pending))
		for i, p := range pending {
			codes[i] = p.code
		}
		taken, err := storedCodes(ctx, checker, codes)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("enrich: could not check generated item codes against the store", zap.Int("codes", len(codes)), zap.Error(err))
			return nil
		}
		for _, code := range taken {
			gen.Reserve(code)
		}

		var collided []generated
		for _, p := range pending {
			if !containsFold(taken, p.code) {
				continue
			}
			p.code = gen.Next(p.name)
			recs[p.index].Set(schema.FieldItemCode, p.code, model.SourceAuto)
			collided = append(collided, p)
		}
		pending = collided
	}
	return nil
}

// containsFold reports whether code is in stored, ignoring case.
func containsFold(stored []string, code string) bool {
	for _, s := range stored {
		if strings.EqualFold(strings.TrimSpace(s), code) {
			return true
		}
	}
	return false
}

func storedCodes(ctx context.Context, checker CodeChecker, codes []string) ([]string, error) {
	var out []string
	for start := 0; start < len(codes); start += codeCheckChunkSize {
		end := min(start+codeCheckChunkSize, len(codes))
		found, err := checker.ExistsAny(ctx, schema.FieldItemCode.Key(), codes[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}
