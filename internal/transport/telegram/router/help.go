package router

import (
	"html"
	"strings"
)

// helpText renders help in HTML parse mode: the command list, or the
// details of one command when path names it.
func (m *Manager) helpText(path []string) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		lines := []string{"<b>Commands</b>", ""}
		root.each(func(path []string, c *Command) {
			line := "<code>/" + html.EscapeString(strings.Join(path, " ")) + "</code>"
			if d := strings.TrimSpace(c.Description); d != "" {
				line += " - " + html.EscapeString(d)
			}
			lines = append(lines, line)
		})
		lines = append(lines, "", "<code>/help &lt;command&gt;</code> for usage.")
		return strings.Join(lines, "\n")
	}

	first := strings.TrimPrefix(path[0], "/")
	cur, ok := root.kids[first]
	if ok {
		cur, _ = cur.descend(path[1:])
	} else if cur, ok = alias[first]; !ok {
		return "unknown command <code>" + html.EscapeString(first) + "</code>"
	}
	if cur.cmd == nil {
		return "unknown command <code>" + html.EscapeString(strings.Join(path, " ")) + "</code>"
	}
	c := cur.cmd
	lines := []string{"<b>/" + html.EscapeString(c.Route) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "Aliases: /"+html.EscapeString(strings.Join(c.Aliases, ", /")))
	}
	return strings.Join(lines, "\n")
}
