package program

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warriorguo/launchpad/types"
)

// RenderDOT draws the program as a graphviz digraph, one cluster per group.
// records are keyed by Handle.Name and colour the nodes by worker state.
func (p *Program) RenderDOT(records map[string]*types.WorkerRecord) string {
	renderer := newRenderer(records)
	return renderer.generateDOT(p)
}

func newRenderer(records map[string]*types.WorkerRecord) *renderer {
	if records == nil {
		records = make(map[string]*types.WorkerRecord)
	}
	return &renderer{records, &strings.Builder{}}
}

type renderer struct {
	records map[string]*types.WorkerRecord
	sb      *strings.Builder
}

func (d *renderer) generateDOT(p *Program) string {
	d.write("digraph D {")
	for _, g := range p.Groups() {
		d.drawGroup(g)
	}
	d.drawLinks(p)
	d.write("label=%s", quoteString(p.Name()))
	d.write("}")
	return d.sb.String()
}

func packToComment(r *types.WorkerRecord) string {
	s, _ := json.Marshal(r)
	return formatNL(addSlashes(string(s)))
}

func (d *renderer) calcAttr(name string) string {
	record, exists := d.records[name]
	if !exists {
		return ""
	}

	color := ""
	switch {
	case record.StartTime.IsZero():
		color = "white"
	case record.EndTime.IsZero():
		color = "yellow"
	case record.Error != "":
		color = "red"
	default:
		color = "green"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(record))
}

func (d *renderer) drawGroup(g *Group) {
	d.write("subgraph cluster_%s{", idString(g.Label()))
	d.write("style=filled")
	d.write("color=lightgrey")
	for _, n := range g.Nodes() {
		d.drawNode(n)
	}
	d.write("label=%s", quoteString(g.Label()))
	d.write("}")
}

func (d *renderer) drawNode(n Node) {
	h := n.Handle()
	if coloc, ok := n.(*ColocationNode); ok {
		d.write("subgraph cluster_%s{", idString(h.Name()))
		d.write("style=dashed")
		for _, inner := range coloc.nodes {
			d.drawNode(inner)
		}
		d.write("label=%s", quoteString(h.Name()+"\\n"+coloc.mode.String()))
		d.write("}")
		return
	}
	shape := "record"
	if n.Kind() == KindCourier {
		shape = "component"
	}
	label := h.Name()
	if n.Function() != "" {
		label += "\\n" + n.Function()
	}
	d.write("%s [label=%s shape=\"%s\"%s]", idString(h.Name()), quoteString(label), shape, d.calcAttr(h.Name()))
}

// drawLinks draws an edge from every node to the nodes whose handles it
// received as arguments.
func (d *renderer) drawLinks(p *Program) {
	for _, n := range Expand(p.AllNodes()) {
		for _, v := range n.Arguments() {
			if h, ok := v.(*Handle); ok {
				d.write("%s -> %s", idString(n.Handle().Name()), idString(h.Name()))
			}
		}
	}
}

func (d *renderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "/", "-"}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
