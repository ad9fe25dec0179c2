package block

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/PaulM5406/pytest-difftest/internal/checksum"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

// LineSpan is one contiguous sub-range (1-based, inclusive) a block occupies.
// A function or class block has exactly one span; the synthetic "<module>"
// block typically has several, one per run of top-level statements between
// nested definitions.
type LineSpan struct {
	Start int
	End   int
}

// Extractor parses a source blob into an ordered, named block list.
type Extractor struct {
	parser *sitter.Parser
}

// NewExtractor creates a Python block extractor. Extractors are not safe for
// concurrent use by multiple goroutines; callers fanning out across files
// should create one Extractor per worker.
func NewExtractor() *Extractor {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())

	return &Extractor{parser: p}
}

// Close releases the underlying tree-sitter parser.
func (e *Extractor) Close() { e.parser.Close() }

// Extract parses source into the ordered block list: one block per
// function, async function, or class definition, plus the synthetic
// "<module>" block covering the remaining module-scope statements.
// On parse failure it returns the single "<parse_error>" pseudo-block.
func (e *Extractor) Extract(filename string, source []byte) []Block {
	tree, err := e.parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		logging.Get(logging.CategoryBlock).Warn("parse failed for %s: %v", filename, err)

		return []Block{parseErrorBlock(source)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		logging.BlockDebug("tree has error nodes for %s, falling back to <parse_error>", filename)

		return []Block{parseErrorBlock(source)}
	}

	lines := strings.Split(string(source), "\n")

	var blocks []Block

	var moduleSpans []LineSpan

	walkModuleLevel(root, lines, "", &blocks, &moduleSpans)

	moduleBlock := buildModuleBlock(lines, moduleSpans)
	blocks = append(blocks, moduleBlock)

	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].StartLine < blocks[j].StartLine
	})

	logging.BlockDebug("extracted %d blocks from %s", len(blocks), filename)

	return blocks
}

func parseErrorBlock(source []byte) Block {
	text := string(source)
	lines := strings.Count(text, "\n") + 1

	return Block{
		Name:      ParseErrorBlockName,
		StartLine: 1,
		EndLine:   lines,
		Checksum:  checksum.Of(text),
		text:      text,
	}
}

// walkModuleLevel walks the direct children of a module or class/function
// body, emitting one Block per function/class definition it finds and
// recording the line spans of everything else as module-level spans
// (only meaningful when parentPath == "").
func walkModuleLevel(node *sitter.Node, lines []string, parentPath string, blocks *[]Block, moduleSpans *[]LineSpan) {
	count := int(node.NamedChildCount())

	for i := 0; i < count; i++ {
		child := node.NamedChild(i)

		switch child.Type() {
		case "function_definition", "async_function_definition":
			emitDef(child, child, lines, parentPath, blocks)
		case "class_definition":
			emitClass(child, child, lines, parentPath, blocks)
		case "decorated_definition":
			inner := innermostDefinition(child)
			if inner == nil {
				recordLeafSpan(child, parentPath, moduleSpans)

				continue
			}

			switch inner.Type() {
			case "function_definition", "async_function_definition":
				emitDef(child, inner, lines, parentPath, blocks)
			case "class_definition":
				emitClass(child, inner, lines, parentPath, blocks)
			}
		default:
			recordLeafSpan(child, parentPath, moduleSpans)
		}
	}
}

// recordLeafSpan accumulates the line span of a non-definition top-level
// statement into the synthetic "<module>" block's span list.
func recordLeafSpan(node *sitter.Node, parentPath string, moduleSpans *[]LineSpan) {
	if parentPath != "" {
		return
	}

	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1

	*moduleSpans = append(*moduleSpans, LineSpan{Start: start, End: end})
}

// innermostDefinition unwraps a decorated_definition to the function_definition
// or class_definition it decorates.
func innermostDefinition(decorated *sitter.Node) *sitter.Node {
	count := int(decorated.NamedChildCount())
	for i := 0; i < count; i++ {
		child := decorated.NamedChild(i)
		switch child.Type() {
		case "function_definition", "async_function_definition", "class_definition":
			return child
		}
	}

	return nil
}

func emitDef(outer, def *sitter.Node, lines []string, parentPath string, blocks *[]Block) {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	name := nodeText(nameNode, lines)
	dotted := dottedName(parentPath, name)

	startLine := int(outer.StartPoint().Row) + 1
	endLine := int(def.EndPoint().Row) + 1

	*blocks = append(*blocks, Block{
		Name:      dotted,
		StartLine: startLine,
		EndLine:   endLine,
		Checksum:  checksum.Of(extractBody(lines, startLine, endLine)),
		text:      extractBody(lines, startLine, endLine),
	})

	// Recurse into the body so nested definitions also produce their own
	// blocks. They remain part of the enclosing block's text above - this
	// double-counting is intentional.
	body := def.ChildByFieldName("body")
	if body != nil {
		var discard []LineSpan

		walkModuleLevel(body, lines, dotted, blocks, &discard)
	}
}

func emitClass(outer, def *sitter.Node, lines []string, parentPath string, blocks *[]Block) {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	name := nodeText(nameNode, lines)
	dotted := dottedName(parentPath, name)

	startLine := int(outer.StartPoint().Row) + 1
	endLine := int(def.EndPoint().Row) + 1

	*blocks = append(*blocks, Block{
		Name:      dotted,
		StartLine: startLine,
		EndLine:   endLine,
		Checksum:  checksum.Of(extractBody(lines, startLine, endLine)),
		text:      extractBody(lines, startLine, endLine),
	})

	body := def.ChildByFieldName("body")
	if body != nil {
		var discard []LineSpan

		walkModuleLevel(body, lines, dotted, blocks, &discard)
	}
}

func dottedName(parentPath, name string) string {
	if parentPath == "" {
		return name
	}

	return parentPath + "." + name
}

func nodeText(n *sitter.Node, lines []string) string {
	row := int(n.StartPoint().Row)
	if row < 0 || row >= len(lines) {
		return ""
	}

	col := int(n.StartPoint().Column)
	endCol := int(n.EndPoint().Column)

	line := lines[row]
	if col < 0 || col > len(line) || endCol > len(line) || endCol < col {
		return strings.TrimSpace(line)
	}

	return line[col:endCol]
}

func buildModuleBlock(lines []string, spans []LineSpan) Block {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var parts []string

	startLine, endLine := 1, len(lines)

	if len(spans) > 0 {
		startLine = spans[0].Start
		endLine = spans[len(spans)-1].End
	}

	for _, s := range spans {
		parts = append(parts, extractBody(lines, s.Start, s.End))
	}

	text := normalizeText(strings.Join(parts, "\n"))

	return Block{
		Name:      ModuleBlockName,
		StartLine: startLine,
		EndLine:   endLine,
		Checksum:  checksum.Of(text),
		text:      text,
	}
}
