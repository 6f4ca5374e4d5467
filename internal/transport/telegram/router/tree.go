package router

import (
	"sort"
	"strings"
)

// cmdNode is one word of a command route. Inner nodes such as "session"
// may carry a command of their own.
type cmdNode struct {
	cmd  *Command
	kids map[string]*cmdNode
}

// insert stores c under route and returns its node.
func (n *cmdNode) insert(route []string, c Command) *cmdNode {
	cur := n
	for _, w := range route {
		if cur.kids == nil {
			cur.kids = map[string]*cmdNode{}
		}
		next, ok := cur.kids[w]
		if !ok {
			next = &cmdNode{}
			cur.kids[w] = next
		}
		cur = next
	}
	cur.cmd = &c
	return cur
}

// descend follows words while they name child nodes and reports how many
// it consumed. A flag ends the route.
func (n *cmdNode) descend(words []string) (*cmdNode, int) {
	cur, used := n, 0
	for _, w := range words {
		if strings.HasPrefix(w, "-") {
			break
		}
		next, ok := cur.kids[w]
		if !ok {
			break
		}
		cur, used = next, used+1
	}
	return cur, used
}

// each calls fn for every command below n, parents first, siblings sorted.
func (n *cmdNode) each(fn func(path []string, c *Command)) {
	n.walk(nil, fn)
}

func (n *cmdNode) walk(path []string, fn func([]string, *Command)) {
	if n.cmd != nil && len(path) > 0 {
		fn(path, n.cmd)
	}
	names := make([]string, 0, len(n.kids))
	for k := range n.kids {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		n.kids[k].walk(append(path[:len(path):len(path)], k), fn)
	}
}
