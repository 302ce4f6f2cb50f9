package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CheckPath confirms that path stays inside the workspace root after
// resolving relative components. Absolute paths outside the workspace and
// traversal escapes are rejected.
func CheckPath(workspace, path string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("workspace not configured")
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(workspace, p)
	}
	p = filepath.Clean(p)

	root := filepath.Clean(workspace)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", path)
	}
	return p, nil
}
