package dynamic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is how String prints timestamps.
const TimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

// String renders an indented, human-readable dump. Objects print one
// underscored field per line, lists print their elements under their index.
func (v *Value) String() string {
	var b strings.Builder

	name := v.opts.name
	if name == "" {
		name = "dynamic.Value"
	}
	b.WriteString(name)
	b.WriteByte('\n')

	switch v.kind {
	case KindObject:
		v.writeObject(&b, 1)
	case KindList:
		v.writeList(&b, 1)
	default:
		writeIndent(&b, 1)
		b.WriteString(formatScalar(scalar(v.raw)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (v *Value) writeObject(b *strings.Builder, depth int) {
	for _, key := range v.Keys() {
		val, err := v.Get(key)
		if err != nil {
			continue
		}
		writeIndent(b, depth)
		b.WriteString(key)
		b.WriteByte(':')
		writeNested(b, val, depth)
	}
}

func (v *Value) writeList(b *strings.Builder, depth int) {
	for i, el := range v.Items() {
		writeIndent(b, depth)
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(':')
		writeNested(b, el, depth)
	}
}

// writeNested finishes a "name:" line started at depth.
func writeNested(b *strings.Builder, val any, depth int) {
	child, ok := val.(*Value)
	if !ok {
		b.WriteByte(' ')
		b.WriteString(formatScalar(val))
		b.WriteByte('\n')
		return
	}

	switch child.kind {
	case KindObject:
		b.WriteByte('\n')
		child.writeObject(b, depth+1)
	case KindList:
		b.WriteString(" [\n")
		child.writeList(b, depth+1)
		writeIndent(b, depth)
		b.WriteString("]\n")
	default:
		b.WriteByte(' ')
		b.WriteString(formatScalar(scalar(child.raw)))
		b.WriteByte('\n')
	}
}

func writeIndent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
}

func formatScalar(val any) string {
	switch t := val.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case time.Time:
		return t.Format(TimeLayout)
	default:
		return fmt.Sprintf("%v", t)
	}
}
