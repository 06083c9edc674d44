// Package codeintel extracts lightweight symbol tables from a workspace
// tree and turns them into the two artifacts the agent loop and CLI
// consume: a per-file language/line-count snapshot (RepoIndexBuilder) and
// a ranked textual map of the most important symbols (RepoMap).
package codeintel

import (
	"bufio"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// CodeSymbol is one named code element (function, type, method, ...)
// recovered from a source file.
type CodeSymbol struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // function, method, struct, interface, class, variable
	File       string `json:"file"`
	Line       int    `json:"line"`
	EndLine    int    `json:"end_line"`
	Signature  string `json:"signature"`
	Parent     string `json:"parent,omitempty"` // receiver type, for methods
	Language   string `json:"language"`
	Exported   bool   `json:"exported"`
	DocComment string `json:"doc_comment,omitempty"`
}

// FileSymbols holds everything extracted from one source file.
type FileSymbols struct {
	Path     string       `json:"path"`
	Language string       `json:"language"`
	Symbols  []CodeSymbol `json:"symbols"`
	Lines    int          `json:"lines"`
	Size     int64        `json:"size"`
}

// SymbolIndexer walks a workspace tree and extracts a symbol table per
// file. Go files get full AST parsing; Python, JavaScript/TypeScript, and
// Rust fall back to line-oriented regex extraction, since the repo
// indexer's job is a fast structural overview, not a real per-language
// parser.
type SymbolIndexer struct {
	logger *zap.Logger

	mu    sync.Mutex
	index map[string]*FileSymbols
}

// excludedDirs are skipped during a tree walk regardless of caller-supplied
// excludes — build output and VCS metadata are never useful symbol sources.
var excludedDirs = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv",
	"vendor", "dist", "build", ".next", "target",
}

const maxIndexableFileSize = 1 << 20 // 1MiB; larger files are skipped, not truncated

// NewSymbolIndexer creates an empty indexer.
func NewSymbolIndexer(logger *zap.Logger) *SymbolIndexer {
	return &SymbolIndexer{
		logger: logger.With(zap.String("component", "symbol-indexer")),
		index:  make(map[string]*FileSymbols),
	}
}

// IndexFile parses a single file and records its symbol table. Returns
// (nil, nil) for file types the indexer doesn't recognize.
func (idx *SymbolIndexer) IndexFile(path string) (*FileSymbols, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	lang := languageOf(path)
	if lang == "" {
		return nil, nil
	}

	var symbols []CodeSymbol
	switch lang {
	case "go":
		symbols, err = idx.extractGo(path)
	case "python":
		symbols, err = idx.extractRegex(path, "python", pythonSymbol)
	case "javascript", "typescript":
		symbols, err = idx.extractRegex(path, lang, jsSymbol)
	case "rust":
		symbols, err = idx.extractRegex(path, "rust", rustSymbol)
	}
	if err != nil {
		return nil, err
	}

	lines, err := countLines(path)
	if err != nil {
		return nil, err
	}

	entry := &FileSymbols{
		Path:     path,
		Language: lang,
		Symbols:  symbols,
		Lines:    lines,
		Size:     info.Size(),
	}

	idx.mu.Lock()
	idx.index[path] = entry
	idx.mu.Unlock()

	return entry, nil
}

// IndexDirectory walks root, indexing every recognized file not pruned by
// excludedDirs or the caller-supplied excludes. Returns the count of files
// actually indexed.
func (idx *SymbolIndexer) IndexDirectory(root string, excludes []string) (int, error) {
	skip := make(map[string]bool, len(excludedDirs)+len(excludes))
	for _, d := range excludedDirs {
		skip[d] = true
	}
	for _, d := range excludes {
		skip[d] = true
	}

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxIndexableFileSize {
			return nil
		}

		if fi, err := idx.IndexFile(path); err == nil && fi != nil {
			count++
		}
		return nil
	})

	idx.logger.Info("workspace indexed", zap.String("root", root), zap.Int("files", count))
	return count, err
}

// Symbols returns every symbol indexed so far, across all files.
func (idx *SymbolIndexer) Symbols() []CodeSymbol {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var all []CodeSymbol
	for _, fi := range idx.index {
		all = append(all, fi.Symbols...)
	}
	return all
}

// FileSymbols returns the indexed symbol table for path, if present.
func (idx *SymbolIndexer) FileSymbols(path string) (*FileSymbols, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	fi, ok := idx.index[path]
	return fi, ok
}

// Search returns symbols whose name contains query (case-insensitive).
func (idx *SymbolIndexer) Search(query string) []CodeSymbol {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	query = strings.ToLower(query)
	var hits []CodeSymbol
	for _, fi := range idx.index {
		for _, sym := range fi.Symbols {
			if strings.Contains(strings.ToLower(sym.Name), query) {
				hits = append(hits, sym)
			}
		}
	}
	return hits
}

// --- Go extraction (native AST) ---

func (idx *SymbolIndexer) extractGo(path string) ([]CodeSymbol, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var symbols []CodeSymbol
	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := CodeSymbol{
				Name:     d.Name.Name,
				Kind:     "function",
				File:     path,
				Line:     fset.Position(d.Pos()).Line,
				EndLine:  fset.Position(d.End()).Line,
				Language: "go",
				Exported: d.Name.IsExported(),
			}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				sym.Kind = "method"
				sym.Parent = typeName(d.Recv.List[0].Type)
			}
			if d.Doc != nil {
				sym.DocComment = d.Doc.Text()
			}
			sym.Signature = funcSignature(d)
			symbols = append(symbols, sym)

		case *ast.GenDecl:
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := "type"
				switch ts.Type.(type) {
				case *ast.StructType:
					kind = "struct"
				case *ast.InterfaceType:
					kind = "interface"
				}
				sym := CodeSymbol{
					Name:     ts.Name.Name,
					Kind:     kind,
					File:     path,
					Line:     fset.Position(ts.Pos()).Line,
					EndLine:  fset.Position(ts.End()).Line,
					Language: "go",
					Exported: ts.Name.IsExported(),
				}
				if d.Doc != nil {
					sym.DocComment = d.Doc.Text()
				}
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols, nil
}

// --- regex-based extraction for non-Go languages ---

type lineMatcher func(line string, lineNum int) *CodeSymbol

var (
	pyClassRe     = regexp.MustCompile(`^class\s+(\w+)`)
	pyFuncRe      = regexp.MustCompile(`^(\s*)def\s+(\w+)\s*\(`)
	pyAsyncFuncRe = regexp.MustCompile(`^(\s*)async\s+def\s+(\w+)\s*\(`)
)

func pythonSymbol(line string, lineNum int) *CodeSymbol {
	if m := pyClassRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "class", Line: lineNum, Exported: !strings.HasPrefix(m[1], "_")}
	}
	if m := pyAsyncFuncRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[2], Kind: methodOrFunc(m[1]), Line: lineNum, Exported: !strings.HasPrefix(m[2], "_")}
	}
	if m := pyFuncRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[2], Kind: methodOrFunc(m[1]), Line: lineNum, Exported: !strings.HasPrefix(m[2], "_")}
	}
	return nil
}

func methodOrFunc(indent string) string {
	if len(indent) > 0 {
		return "method"
	}
	return "function"
}

var (
	jsFuncRe  = regexp.MustCompile(`(?:export\s+)?(?:async\s+)?function\s+(\w+)`)
	jsClassRe = regexp.MustCompile(`(?:export\s+)?class\s+(\w+)`)
	jsArrowRe = regexp.MustCompile(`(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`)
)

func jsSymbol(line string, lineNum int) *CodeSymbol {
	exported := strings.Contains(line, "export")
	if m := jsClassRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "class", Line: lineNum, Exported: exported}
	}
	if m := jsFuncRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "function", Line: lineNum, Exported: exported}
	}
	if m := jsArrowRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "function", Line: lineNum, Exported: exported}
	}
	return nil
}

var (
	rustFnRe     = regexp.MustCompile(`(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`)
	rustStructRe = regexp.MustCompile(`(?:pub\s+)?struct\s+(\w+)`)
	rustEnumRe   = regexp.MustCompile(`(?:pub\s+)?enum\s+(\w+)`)
	rustTraitRe  = regexp.MustCompile(`(?:pub\s+)?trait\s+(\w+)`)
)

func rustSymbol(line string, lineNum int) *CodeSymbol {
	pub := strings.HasPrefix(line, "pub")
	if m := rustStructRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "struct", Line: lineNum, Exported: pub}
	}
	if m := rustEnumRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "enum", Line: lineNum, Exported: pub}
	}
	if m := rustTraitRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "interface", Line: lineNum, Exported: pub}
	}
	if m := rustFnRe.FindStringSubmatch(line); m != nil {
		return &CodeSymbol{Name: m[1], Kind: "function", Line: lineNum, Exported: pub}
	}
	return nil
}

func (idx *SymbolIndexer) extractRegex(path, lang string, match lineMatcher) ([]CodeSymbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var symbols []CodeSymbol
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if sym := match(scanner.Text(), lineNum); sym != nil {
			sym.File = path
			sym.Language = lang
			symbols = append(symbols, *sym)
		}
	}
	return symbols, scanner.Err()
}

// --- shared helpers ---

func languageOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".rs":
		return "rust"
	default:
		return ""
	}
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

func typeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeName(t.X)
	default:
		return ""
	}
}

func funcSignature(decl *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if decl.Recv != nil && len(decl.Recv.List) > 0 {
		b.WriteString("(")
		b.WriteString(typeName(decl.Recv.List[0].Type))
		b.WriteString(") ")
	}
	b.WriteString(decl.Name.Name)
	b.WriteString("(")
	if decl.Type.Params != nil {
		for i, p := range decl.Type.Params.List {
			if i > 0 {
				b.WriteString(", ")
			}
			for j, name := range p.Names {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(name.Name)
			}
			b.WriteString(" ")
			b.WriteString(typeName(p.Type))
		}
	}
	b.WriteString(")")
	return b.String()
}
