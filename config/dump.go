package config

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes cfg in the configuration file syntax, with every default and inherited directive spelled out.
func Fprint(w io.Writer, cfg *Config) error {
	var b strings.Builder
	writeDirectives(&b, cfg.HTTP, "")
	for _, srv := range cfg.Servers {
		b.WriteString("\nserver {\n")
		writeDirectives(&b, srv.Directives, "\t")
		for _, loc := range srv.Locations {
			fmt.Fprintf(&b, "\n\tlocation %s {\n", quoteArg(loc.Path))
			writeDirectives(&b, loc.Directives, "\t\t")
			b.WriteString("\t}\n")
		}
		b.WriteString("}\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeDirectives(b *strings.Builder, d Directives, indent string) {
	for _, name := range d.Names() {
		for _, args := range d[name] {
			if name == "listen" && len(args) == 2 {
				args = Args{args[0] + ":" + args[1]}
			}
			b.WriteString(indent)
			b.WriteString(name)
			for _, a := range args {
				b.WriteByte(' ')
				b.WriteString(quoteArg(a))
			}
			b.WriteString(";\n")
		}
	}
}

func quoteArg(a string) string {
	if IsQuoted(a) || (a != "" && !strings.ContainsAny(a, " \t\r\n;{}#\"\\")) {
		return a
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`, "#", `\#`)
	return `"` + r.Replace(a) + `"`
}
