package static

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

type entry struct {
	name string
	size int64
}

// Listing renders the autoindex page for the directory dir, which is served under urlPath.
func Listing(urlPath, dir string) (string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read directory %q", dir)
	}

	// ReadDir omits "." and "..", the parent link is added back
	entries := []entry{{name: "../"}}
	if info, err := os.Stat(filepath.Join(dir, "..")); err == nil {
		entries[0].size = info.Size()
	}

	entries = append(entries, lo.FilterMap(des, func(de os.DirEntry, _ int) (entry, bool) {
		info, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil {
			return entry{}, false
		}
		e := entry{name: de.Name(), size: info.Size()}
		if info.IsDir() {
			e.name += "/"
		}
		return e, true
	})...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<table>\n", html.EscapeString(urlPath))
	for _, e := range entries {
		href := (&url.URL{Path: urlPath + e.name}).EscapedPath()
		fmt.Fprintf(&b, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td></tr>\n",
			html.EscapeString(href), html.EscapeString(e.name), HumanSize(e.size))
	}
	b.WriteString("</table>")
	return b.String(), nil
}

// HumanSize formats n bytes with two decimals in KB, MB or GB once it reaches 1024 of the smaller unit.
func HumanSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.2f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.2f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/(unit*unit*unit))
	}
}
