package codeintel

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RepoMap renders an Aider-style PageRank-ranked symbol map of a workspace,
// used to give the agent loop's system prompt a structural overview of a
// codebase too large to paste in full.
type RepoMap struct {
	indexer *SymbolIndexer
	logger  *zap.Logger
}

// symbolRef identifies one symbol by "file:name" for graph edges.
type symbolRef struct {
	From string
	To   string
}

// RankedSymbol pairs a symbol with its computed importance score.
type RankedSymbol struct {
	CodeSymbol
	Score float64 `json:"score"`
}

// NewRepoMap creates a map generator over an indexer's current symbol table.
func NewRepoMap(indexer *SymbolIndexer, logger *zap.Logger) *RepoMap {
	return &RepoMap{
		indexer: indexer,
		logger:  logger.With(zap.String("component", "repo-map")),
	}
}

// Generate renders the whole indexed symbol table as a token-budgeted map.
func (rm *RepoMap) Generate(maxTokens int) string {
	return rm.render(rm.indexer.Symbols(), maxTokens, "# Repository Map")
}

// GenerateForFiles renders a map restricted to the given files — used when
// only a subset of the tree (a pipeline step's touched files, a pending
// diff) is relevant to the current turn.
func (rm *RepoMap) GenerateForFiles(files []string, maxTokens int) string {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}

	var subset []CodeSymbol
	for _, s := range rm.indexer.Symbols() {
		if want[s.File] {
			subset = append(subset, s)
		}
	}
	return rm.render(subset, maxTokens, "# Repository Map (focused)")
}

func (rm *RepoMap) render(symbols []CodeSymbol, maxTokens int, title string) string {
	if len(symbols) == 0 {
		return title + "\n\n(no symbols indexed)\n"
	}

	edges := buildReferenceGraph(symbols)
	ranked := rankSymbols(symbols, edges)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	return formatRankedMap(ranked, maxTokens)
}

// buildReferenceGraph heuristically links symbols across files: a symbol
// references another file's exported symbol if that symbol's name is long
// enough to not be noise. This is a name-coincidence heuristic, not a real
// call graph — good enough to bias PageRank toward widely-named exports.
func buildReferenceGraph(symbols []CodeSymbol) []symbolRef {
	byFile := make(map[string][]CodeSymbol)
	for _, s := range symbols {
		byFile[s.File] = append(byFile[s.File], s)
	}

	var edges []symbolRef
	seen := make(map[string]bool)

	for _, s := range symbols {
		sKey := symbolKey(s)
		for file, others := range byFile {
			if file == s.File {
				continue
			}
			for _, other := range others {
				if s.Name == other.Name || !other.Exported || len(other.Name) <= 2 {
					continue
				}
				oKey := symbolKey(other)
				edgeKey := sKey + "->" + oKey
				if seen[edgeKey] {
					continue
				}
				edges = append(edges, symbolRef{From: sKey, To: oKey})
				seen[edgeKey] = true
			}
		}
	}
	return edges
}

// rankSymbols runs PageRank over the reference graph, then boosts exported
// declarations, documented ones, and type declarations (interface/struct/
// class) — the three signals that best predict "worth showing the LLM
// first" in a repo map.
func rankSymbols(symbols []CodeSymbol, edges []symbolRef) []RankedSymbol {
	const (
		damping    = 0.85
		iterations = 20
		epsilon    = 1e-6
	)

	n := len(symbols)
	keyIdx := make(map[string]int, n)
	for i, s := range symbols {
		keyIdx[symbolKey(s)] = i
	}

	outLinks := make([][]int, n)
	inLinks := make([][]int, n)
	for _, e := range edges {
		from, ok1 := keyIdx[e.From]
		to, ok2 := keyIdx[e.To]
		if ok1 && ok2 && from != to {
			outLinks[from] = append(outLinks[from], to)
			inLinks[to] = append(inLinks[to], from)
		}
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 / float64(n)
	}

	for iter := 0; iter < iterations; iter++ {
		next := make([]float64, n)
		maxDelta := 0.0
		for i := 0; i < n; i++ {
			sum := 0.0
			for _, j := range inLinks[i] {
				if len(outLinks[j]) > 0 {
					sum += scores[j] / float64(len(outLinks[j]))
				}
			}
			next[i] = (1-damping)/float64(n) + damping*sum
			if delta := math.Abs(next[i] - scores[i]); delta > maxDelta {
				maxDelta = delta
			}
		}
		scores = next
		if maxDelta < epsilon {
			break
		}
	}

	for i, s := range symbols {
		if s.Exported {
			scores[i] *= 1.5
		}
		if s.DocComment != "" {
			scores[i] *= 1.2
		}
		if s.Kind == "interface" || s.Kind == "struct" || s.Kind == "class" {
			scores[i] *= 1.3
		}
	}

	ranked := make([]RankedSymbol, n)
	for i, s := range symbols {
		ranked[i] = RankedSymbol{CodeSymbol: s, Score: scores[i]}
	}
	return ranked
}

// fileGroup collects the ranked symbols belonging to one source file.
type fileGroup struct {
	path    string
	symbols []RankedSymbol
}

// formatRankedMap writes ranked symbols grouped by file, highest-scoring
// file first, stopping once the ~4-chars-per-token budget is spent.
func formatRankedMap(ranked []RankedSymbol, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	groups := make(map[string]*fileGroup)
	var order []string

	for _, rs := range ranked {
		g, ok := groups[rs.File]
		if !ok {
			g = &fileGroup{path: rs.File}
			groups[rs.File] = g
			order = append(order, rs.File)
		}
		g.symbols = append(g.symbols, rs)
	}

	sort.Slice(order, func(i, j int) bool {
		return groups[order[i]].symbols[0].Score > groups[order[j]].symbols[0].Score
	})

	var b strings.Builder
	b.WriteString("# Repository Map\n\n")
	charBudget := maxTokens * 4

	for _, path := range order {
		section := formatFileSection(groups[path])
		if b.Len()+len(section) > charBudget {
			break
		}
		b.WriteString(section)
	}
	return b.String()
}

func formatFileSection(g *fileGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", g.path)
	for _, rs := range g.symbols {
		switch rs.Kind {
		case "struct", "class":
			fmt.Fprintf(&b, "- %s `%s` (L%d)\n", rs.Kind, rs.Name, rs.Line)
		case "interface":
			fmt.Fprintf(&b, "- interface `%s` (L%d)\n", rs.Name, rs.Line)
		case "function", "method":
			sig := rs.Signature
			if sig == "" {
				sig = rs.Name + "()"
			}
			if rs.Parent != "" {
				fmt.Fprintf(&b, "  - `%s` (L%d)\n", sig, rs.Line)
			} else {
				fmt.Fprintf(&b, "- func `%s` (L%d)\n", sig, rs.Line)
			}
		default:
			fmt.Fprintf(&b, "- %s `%s` (L%d)\n", rs.Kind, rs.Name, rs.Line)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func symbolKey(s CodeSymbol) string {
	return fmt.Sprintf("%s:%s", s.File, s.Name)
}
