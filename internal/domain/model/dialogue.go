package model

import "strings"

type Speaker string

const (
	HostA Speaker = "hostA"
	HostB Speaker = "hostB"
)

func (s Speaker) Valid() bool { return s == HostA || s == HostB }

// DialogueLine is one turn of the generated script.
type DialogueLine struct {
	Speaker Speaker `json:"speaker" validate:"required,oneof=hostA hostB"`
	Text    string  `json:"text" validate:"required"`
}

// Script is the ordered list of dialogue turns.
type Script []DialogueLine

// Transcript renders the script with persona names.
func (s Script) Transcript(names map[Speaker]string) string {
	var b strings.Builder
	for i, l := range s {
		if i > 0 {
			b.WriteString("\n")
		}
		name := names[l.Speaker]
		if name == "" {
			name = string(l.Speaker)
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}

// WordCount counts words across all turns.
func (s Script) WordCount() int {
	n := 0
	for _, l := range s {
		n += len(strings.Fields(l.Text))
	}
	return n
}
