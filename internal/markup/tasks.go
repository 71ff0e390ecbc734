package markup

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Task status values as written in the storage format.
const (
	StatusIncomplete = "incomplete"
	StatusComplete   = "complete"
)

// Task is one top-level task element of a document.
type Task struct {
	// ID is the ac:task-id, or a position-derived id when the task has
	// none or shares its id with an earlier task of the document.
	ID          string
	Status      string
	Body        string // body text without nested task lists, whitespace collapsed
	AssigneeKey string // ri:userkey of the first mention
	DueDate     string // datetime of the first <time>, as written
	Context     string

	// Position is the index among the document's extracted tasks.
	Position int

	// Start and End delimit the <ac:task> element in the content.
	Start, End int
	Markup     string
}

// Complete reports whether the task is checked off.
func (t Task) Complete() bool {
	return strings.EqualFold(t.Status, StatusComplete)
}

// Parser locates tasks and issue links in storage-format content.
type Parser struct {
	aggregation map[string]bool
}

// NewParser returns a parser that ignores tasks inside the named macros.
func NewParser(aggregationMacros []string) *Parser {
	p := &Parser{aggregation: make(map[string]bool, len(aggregationMacros))}
	for _, m := range aggregationMacros {
		p.aggregation[strings.ToLower(m)] = true
	}
	return p
}

type block struct {
	name      string
	listDepth int
	text      strings.Builder
}

func (b *block) String() string { return collapse(b.text.String()) }

type table struct{ headers []*block }

type row struct{ cells []*block }

// elem is an open element on the parse stack.
type elem struct {
	name         string
	block        *block
	table        *table
	row          *row
	aggregation  bool
	blocksBefore int // ac:task-list: number of blocks started before it
}

type taskState struct {
	task      Task
	listDepth int
	field     string // open ac:task-id / ac:task-status
	inBody    bool
	body      strings.Builder

	li        *block
	row       *row
	table     *table
	cell      *block
	preceding int
	inList    bool
}

type taskParse struct {
	p      *Parser
	stack  []elem
	blocks []*block
	tasks  []*taskState
	cur    *taskState

	aggDepth, listDepth, taskDepth int
}

// Tasks returns every top-level task of content in document order. Tasks
// inside aggregation macros and tasks nested in another task's body are
// not returned.
func (p *Parser) Tasks(content string) ([]Task, error) {
	tp := &taskParse{p: p}
	if err := scan(content, tp.token); err != nil {
		return nil, err
	}

	used := make(map[string]bool, len(tp.tasks))
	derive := make([]bool, len(tp.tasks))
	for i, ts := range tp.tasks {
		if id := ts.task.ID; id == "" || used[id] {
			derive[i] = true
		} else {
			used[id] = true
		}
	}

	out := make([]Task, 0, len(tp.tasks))
	for i, ts := range tp.tasks {
		t := ts.task
		t.Position = i
		if derive[i] {
			t.ID = positionID(i, used)
		}
		t.Body = collapse(ts.body.String())
		t.Context = tp.context(ts)
		t.Markup = content[t.Start:t.End]
		out = append(out, t)
	}
	return out, nil
}

// positionID names the task at pos without clashing with ids in used.
func positionID(pos int, used map[string]bool) string {
	id := "pos-" + strconv.Itoa(pos+1)
	for n := 2; used[id]; n++ {
		id = "pos-" + strconv.Itoa(pos+1) + "-" + strconv.Itoa(n)
	}
	used[id] = true
	return id
}

func (tp *taskParse) token(tok token) {
	switch tok.Type {
	case html.StartTagToken:
		tp.open(tok)
	case html.SelfClosingTagToken:
		tp.attrs(tok)
	case html.EndTagToken:
		tp.close(tok)
	case html.TextToken:
		tp.text(tok.Data)
	}
}

func (tp *taskParse) open(tok token) {
	e := elem{name: tok.Data}
	switch name := tok.Data; {
	case name == "ac:structured-macro":
		macro, _ := tok.attr("ac:name")
		if tp.p.aggregation[strings.ToLower(macro)] {
			e.aggregation = true
			tp.aggDepth++
		}
	case name == "ac:task-list":
		e.blocksBefore = len(tp.blocks)
		tp.listDepth++
	case name == "ac:task":
		tp.taskDepth++
		if tp.taskDepth == 1 && tp.aggDepth == 0 {
			tp.startTask(tok)
		}
	case name == "ac:task-body":
		if tp.cur != nil && tp.taskDepth == 1 {
			tp.cur.inBody = true
		}
	case name == "ac:task-id" || name == "ac:task-status":
		if tp.cur != nil && tp.taskDepth == 1 {
			tp.cur.field = name
		}
	case name == "table":
		e.table = &table{}
	case name == "tr":
		e.row = &row{}
	case name == "p" || name == "li" || name == "td" || name == "th" || isHeading(name):
		e.block = &block{name: name, listDepth: tp.listDepth}
		tp.blocks = append(tp.blocks, e.block)
		if name == "td" || name == "th" {
			if r := tp.innermostRow(); r != nil {
				r.cells = append(r.cells, e.block)
			}
			if t := tp.innermostTable(); t != nil && name == "th" {
				t.headers = append(t.headers, e.block)
			}
		}
	}
	tp.attrs(tok)
	tp.stack = append(tp.stack, e)
}

func (tp *taskParse) startTask(tok token) {
	ts := &taskState{listDepth: tp.listDepth, preceding: len(tp.blocks)}
	ts.task.Start = tok.Start
	for i := len(tp.stack) - 1; i >= 0; i-- {
		e := tp.stack[i]
		switch {
		case e.block != nil && e.block.name == "li" && ts.li == nil:
			ts.li = e.block
		case (e.block != nil && (e.block.name == "td" || e.block.name == "th")) && ts.cell == nil:
			ts.cell = e.block
		case e.row != nil && ts.row == nil:
			ts.row = e.row
		case e.table != nil && ts.table == nil:
			ts.table = e.table
		case e.name == "ac:task-list" && !ts.inList:
			ts.preceding, ts.inList = e.blocksBefore, true
		}
	}
	tp.cur = ts
}

// attrs picks up mention and date attributes inside the current task.
func (tp *taskParse) attrs(tok token) {
	if tp.cur == nil || tp.taskDepth != 1 {
		return
	}
	switch tok.Data {
	case "ri:user":
		if k, ok := tok.attr("ri:userkey"); ok && tp.cur.task.AssigneeKey == "" {
			tp.cur.task.AssigneeKey = k
		}
	case "time":
		if d, ok := tok.attr("datetime"); ok && tp.cur.task.DueDate == "" {
			tp.cur.task.DueDate = d
		}
	}
}

func (tp *taskParse) close(tok token) {
	idx := -1
	for i := len(tp.stack) - 1; i >= 0; i-- {
		if tp.stack[i].name == tok.Data {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for len(tp.stack) > idx {
		e := tp.stack[len(tp.stack)-1]
		tp.stack = tp.stack[:len(tp.stack)-1]
		tp.pop(e, tok.End)
	}
}

func (tp *taskParse) pop(e elem, end int) {
	switch e.name {
	case "ac:structured-macro":
		if e.aggregation {
			tp.aggDepth--
		}
	case "ac:task-list":
		tp.listDepth--
	case "ac:task":
		if tp.taskDepth == 1 && tp.cur != nil {
			tp.cur.task.End = end
			tp.tasks = append(tp.tasks, tp.cur)
			tp.cur = nil
		}
		tp.taskDepth--
	case "ac:task-body":
		if tp.cur != nil && tp.taskDepth == 1 {
			tp.cur.inBody = false
		}
	case "ac:task-id", "ac:task-status":
		if tp.cur != nil && tp.taskDepth == 1 {
			tp.cur.field = ""
		}
	}
}

func (tp *taskParse) text(s string) {
	// Placeholders are editor hints, not prose.
	for _, e := range tp.stack {
		if e.name == "ac:placeholder" {
			return
		}
	}
	for _, e := range tp.stack {
		if e.block != nil && e.block.listDepth == tp.listDepth {
			e.block.text.WriteString(s)
			e.block.text.WriteByte(' ')
		}
	}
	ts := tp.cur
	if ts == nil || tp.taskDepth != 1 {
		return
	}
	switch ts.field {
	case "ac:task-id":
		ts.task.ID += strings.TrimSpace(s)
	case "ac:task-status":
		ts.task.Status += strings.TrimSpace(s)
	}
	if ts.inBody && tp.listDepth == ts.listDepth {
		ts.body.WriteString(s)
		ts.body.WriteByte(' ')
	}
}

func (tp *taskParse) innermostRow() *row {
	for i := len(tp.stack) - 1; i >= 0; i-- {
		if tp.stack[i].row != nil {
			return tp.stack[i].row
		}
	}
	return nil
}

func (tp *taskParse) innermostTable() *table {
	for i := len(tp.stack) - 1; i >= 0; i-- {
		if tp.stack[i].table != nil {
			return tp.stack[i].table
		}
	}
	return nil
}

// context is the prose around a task: its enclosing list item, else its
// table row (with headers), else the nearest preceding paragraph, heading
// or list item that has text.
func (tp *taskParse) context(ts *taskState) string {
	if ts.li != nil {
		return ts.li.String()
	}
	if ts.row != nil {
		var sb strings.Builder
		if ts.table != nil && len(ts.table.headers) > 0 {
			sb.WriteString("| ")
			sb.WriteString(joinBlocks(ts.table.headers))
			sb.WriteString(" |\n")
		}
		sb.WriteString("| ")
		sb.WriteString(joinBlocks(ts.row.cells))
		sb.WriteString(" |")
		return sb.String()
	}
	for i := ts.preceding - 1; i >= 0; i-- {
		b := tp.blocks[i]
		if b.name != "p" && b.name != "li" && !isHeading(b.name) {
			continue
		}
		if s := b.String(); s != "" {
			return s
		}
	}
	return ""
}

func joinBlocks(bs []*block) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return strings.Join(parts, " | ")
}
