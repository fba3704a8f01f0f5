package config

// Defaults applied at the http level when a directive is absent.
const (
	DefaultAutoindex   = "off"
	DefaultMaxBodySize = "1m"
	DefaultIndex       = "index.html"
	DefaultRoot        = "html"
	DefaultUploadDir   = ""
	DefaultListen      = "*:8000"
)

// inherited are directives a child scope takes from its parent when it does not set them itself.
var inherited = []string{"autoindex", "client_max_body_size", "index", "root", "upload_dir", "cgi_dir"}

// accumulated are directives a child scope appends from its parent after its own occurrences.
var accumulated = []string{"error_page", "cgi_ext"}

func applyDefaults(cfg *Config) {
	if cfg.HTTP == nil {
		cfg.HTTP = Directives{}
	}
	setIfAbsent(cfg.HTTP, "autoindex", DefaultAutoindex)
	setIfAbsent(cfg.HTTP, "client_max_body_size", DefaultMaxBodySize)
	setIfAbsent(cfg.HTTP, "index", DefaultIndex)
	setIfAbsent(cfg.HTTP, "root", DefaultRoot)
	setIfAbsent(cfg.HTTP, "upload_dir", DefaultUploadDir)

	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		if srv.Directives == nil {
			srv.Directives = Directives{}
		}
		inherit(srv.Directives, cfg.HTTP)
		setIfAbsent(srv.Directives, "listen", DefaultListen)
		setIfAbsent(srv.Directives, "server_name", "")

		srv.Locations = append(srv.Locations, Location{Path: "/"})
		for j := range srv.Locations {
			loc := &srv.Locations[j]
			if loc.Directives == nil {
				loc.Directives = Directives{}
			}
			inherit(loc.Directives, srv.Directives)
		}
	}
}

func inherit(child, parent Directives) {
	for _, name := range inherited {
		if !child.Has(name) && parent.Has(name) {
			child[name] = cloneAll(parent[name])
		}
	}
	for _, name := range accumulated {
		for _, args := range parent.All(name) {
			child.add(name, args...)
		}
	}
}

func setIfAbsent(d Directives, name, value string) {
	if !d.Has(name) {
		d.add(name, value)
	}
}
