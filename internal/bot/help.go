package bot

import (
	"html"
	"strings"
)

// helpText renders help in Telegram HTML parse mode, either the command
// list or the details of one command.
func (r *Router) helpText(name string, owner bool) string {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
	if name != "" {
		cmd, _, ok := r.lookup(name)
		if !ok {
			return strings.Join([]string{
				"❓ <b>Unknown command</b>",
				"Type <code>/help</code> for the command list.",
			}, "\n")
		}
		return helpCommandHTML(cmd)
	}

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, c := range r.Commands() {
		if !c.Public && !owner {
			continue
		}
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"🔎 <b>/" + html.EscapeString(c.Name) + "</b>"}
	if c.Description != "" {
		lines = append(lines, html.EscapeString(c.Description))
	}
	if c.Usage != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(c.Usage)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Aliases</b>: "+html.EscapeString(strings.Join(c.Aliases, ", ")))
	}
	if !c.Public {
		lines = append(lines, "", "🔒 owner only")
	}
	return strings.Join(lines, "\n")
}
