package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// DefaultIgnore lists directory entries that are never conversations.
var DefaultIgnore = []string{".DS_Store"}

var pageName = regexp.MustCompile(`^message_(\d+)\.json$`)

// PageGapError reports a conversation folder whose pages are not numbered
// 1..n without holes.
type PageGapError struct {
	Dir     string
	Missing int
	Found   []int
}

func (e *PageGapError) Error() string {
	return fmt.Sprintf("conversation %s: message_%d.json missing (found pages %v)", e.Dir, e.Missing, e.Found)
}

// PageFile is one numbered page within a conversation folder.
type PageFile struct {
	Index int
	Path  string
}

// ListConversations returns the conversation folder names under root in
// listing order, skipping ignored names and plain files.
func ListConversations(root string, ignore []string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}

	var names []string
	for _, e := range entries {
		if skip[e.Name()] || !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// ListPages returns the message_<n>.json pages of dir in increasing index
// order. Pages must be numbered contiguously from 1.
func ListPages(dir string) ([]PageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var pages []PageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pageName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, PageFile{Index: n, Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	for i, p := range pages {
		if p.Index != i+1 {
			found := make([]int, len(pages))
			for j := range pages {
				found[j] = pages[j].Index
			}
			return nil, &PageGapError{Dir: dir, Missing: i + 1, Found: found}
		}
	}
	return pages, nil
}
