package archive

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadPage reads and decodes one page file. A missing file yields an error
// matching fs.ErrNotExist.
func ReadPage(path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("read page: %w", err)
	}
	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		return Page{}, fmt.Errorf("parse page %s: %w", path, err)
	}
	return p, nil
}
