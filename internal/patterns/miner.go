package patterns

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// DefaultMinSupport is the number of occurrences a template needs to count as a pattern.
const DefaultMinSupport = 2

var (
	uuidRe   = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexRe    = regexp.MustCompile(`\b(?:0x[0-9a-f]+|[0-9a-f]{8,})\b`)
	ipRe     = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?\b`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	noiseRe  = regexp.MustCompile(`[^a-z<>\s]+`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// Miner extracts recurring message templates from the members of an anomaly group.
type Miner struct {
	minSupport int
	logger     *slog.Logger
}

// NewMiner constructs a Miner; minSupport below 1 falls back to DefaultMinSupport.
func NewMiner(logger *slog.Logger, minSupport int) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if minSupport < 1 {
		minSupport = DefaultMinSupport
	}
	return &Miner{minSupport: minSupport, logger: logger}
}

// Mine returns templates seen at least minSupport times, most frequent first.
// Equal counts keep first-appearance order.
func (m *Miner) Mine(events []models.ScoredEvent) []string {
	if len(events) == 0 {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for _, ev := range events {
		tpl := Template(ev.Message)
		if tpl == "" {
			continue
		}
		if _, ok := counts[tpl]; !ok {
			order = append(order, tpl)
		}
		counts[tpl]++
	}

	patterns := make([]string, 0, len(order))
	for _, tpl := range order {
		if counts[tpl] >= m.minSupport {
			patterns = append(patterns, tpl)
		}
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return counts[patterns[i]] > counts[patterns[j]]
	})

	if len(patterns) > 0 {
		m.logger.Debug("mined message patterns", slog.Int("events", len(events)), slog.Int("patterns", len(patterns)))
	}
	return patterns
}

// Template lowercases a message and replaces identifiers, addresses and
// numbers with placeholders so that variants of one message collapse.
func Template(message string) string {
	s := strings.ToLower(message)
	s = uuidRe.ReplaceAllString(s, " <id> ")
	s = ipRe.ReplaceAllString(s, " <ip> ")
	s = hexRe.ReplaceAllString(s, " <hex> ")
	s = numberRe.ReplaceAllString(s, " <num> ")
	s = noiseRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
