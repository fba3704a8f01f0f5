package config

import (
	"os"

	"github.com/cockroachdb/errors"
)

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}

	cfg, err := Parse(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	return cfg, nil
}

// Parse parses src, applies defaults and inheritance and validates the result.
func Parse(src string) (*Config, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}

	return finish(cfg)
}

// finish is shared by every front end: it defaults, inherits and validates a raw tree.
func finish(cfg *Config) (*Config, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("config must contain at least one server block")
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) peekWord(text string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokWord && t.text == text
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t, ok := p.peek()
	if !ok {
		return t, errors.Newf("unexpected end of config, expected %s", what)
	}
	if t.kind != kind {
		return t, errors.Newf("line %d: unexpected %q, expected %s", t.line, t.text, what)
	}
	p.pos++
	return t, nil
}

func (p *parser) parse() (*Config, error) {
	cfg := &Config{}

	var err error
	if cfg.HTTP, err = p.directives(); err != nil {
		return nil, err
	}

	for p.peekWord("server") {
		srv, err := p.server()
		if err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, srv)
	}

	if t, ok := p.peek(); ok {
		return nil, errors.Newf("line %d: unexpected %q", t.line, t.text)
	}
	return cfg, nil
}

func (p *parser) server() (Server, error) {
	var srv Server
	p.pos++ // "server"
	if _, err := p.expect(tokOpenBrace, `"{" after server`); err != nil {
		return srv, err
	}

	var err error
	if srv.Directives, err = p.directives(); err != nil {
		return srv, err
	}

	for p.peekWord("location") {
		loc, err := p.location()
		if err != nil {
			return srv, err
		}
		srv.Locations = append(srv.Locations, loc)
	}

	if _, err := p.expect(tokCloseBrace, `"}" closing server`); err != nil {
		return srv, err
	}
	return srv, nil
}

func (p *parser) location() (Location, error) {
	var loc Location
	p.pos++ // "location"

	path, err := p.expect(tokWord, "location path")
	if err != nil {
		return loc, err
	}
	loc.Path = path.text

	if _, err := p.expect(tokOpenBrace, `"{" after location path`); err != nil {
		return loc, err
	}
	if loc.Directives, err = p.directives(); err != nil {
		return loc, err
	}
	if _, err := p.expect(tokCloseBrace, `"}" closing location`); err != nil {
		return loc, err
	}
	return loc, nil
}

// directives parses "name arg...;" statements until a block keyword, a closing brace or the end of input.
func (p *parser) directives() (Directives, error) {
	d := Directives{}
	for {
		t, ok := p.peek()
		if !ok || t.kind == tokCloseBrace || p.peekWord("server") || p.peekWord("location") {
			return d, nil
		}

		name, err := p.expect(tokWord, "directive name")
		if err != nil {
			return nil, err
		}

		var args Args
		for {
			t, ok := p.peek()
			if !ok || t.kind != tokWord {
				break
			}
			args = append(args, t.text)
			p.pos++
		}

		if _, err := p.expect(tokSemicolon, `";" after directive `+name.text); err != nil {
			return nil, err
		}
		d.add(name.text, args...)
	}
}
