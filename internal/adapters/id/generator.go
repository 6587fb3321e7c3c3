package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) SessionID() string {
	return g.generate("ses")
}

func (g *Generator) TurnID() string {
	return g.generate("trn")
}

func (g *Generator) SubtaskID() string {
	return g.generate("tsk")
}

func (g *Generator) TrackerID() string {
	return g.generate("trk")
}

func (g *Generator) VoteID() string {
	return g.generate("vot")
}

func (g *Generator) DocumentID() string {
	return g.generate("doc")
}

func (g *Generator) TraceID() string {
	return g.generate("trc")
}
