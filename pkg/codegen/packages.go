package codegen

import "strings"

// packageToImportMap mirrors the reference rewriter's pip-name -> import-
// name table for packages whose importable module name doesn't match the
// package name pip installs.
var packageToImportMap = map[string]string{
	"scikit-learn":           "sklearn",
	"pillow":                 "PIL",
	"opencv-python":          "cv2",
	"opencv-python-headless": "cv2",
	"beautifulsoup4":         "bs4",
	"pyyaml":                 "yaml",
	"pytorch":                "torch",
	"tensorflow-gpu":         "tensorflow",
}

// importToPackageMap is the reverse lookup, built once, used by
// GetRequiredPackages to map an import name a script actually uses back to
// the pip package that must be installed in the kernel.
var importToPackageMap = buildImportToPackageMap()

func buildImportToPackageMap() map[string]string {
	m := make(map[string]string, len(packageToImportMap))
	for pkg, imp := range packageToImportMap {
		m[imp] = pkg
	}
	return m
}

// GetImportNames returns the importable module name(s) a pip package
// provides. Most packages import under their own name; a handful (scikit-
// learn, pillow, opencv-python, ...) don't.
func GetImportNames(pkg string) []string {
	if imp, ok := packageToImportMap[pkg]; ok {
		return []string{imp}
	}
	return []string{strings.ReplaceAll(pkg, "-", "_")}
}

// GetRequiredPackages walks a set of import statements a script uses and
// returns the subset of kernelPackages whose import name is actually
// referenced, mapping scikit-learn-style mismatches back correctly.
func GetRequiredPackages(userImports []string, kernelPackages []string) []string {
	used := make(map[string]bool)
	for _, stmt := range userImports {
		for _, name := range topLevelImportNames(stmt) {
			used[name] = true
		}
	}

	var required []string
	for _, pkg := range kernelPackages {
		for _, imp := range GetImportNames(pkg) {
			if used[imp] {
				required = append(required, pkg)
				break
			}
		}
	}
	return required
}

// topLevelImportNames extracts the root module name(s) referenced by one
// `import a.b, c as d` or `from a.b import x` statement.
func topLevelImportNames(stmt string) []string {
	stmt = strings.TrimSpace(stmt)
	var names []string
	switch {
	case strings.HasPrefix(stmt, "import "):
		rest := strings.TrimPrefix(stmt, "import ")
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			if idx := strings.Index(part, " as "); idx >= 0 {
				part = part[:idx]
			}
			names = append(names, rootModule(part))
		}
	case strings.HasPrefix(stmt, "from "):
		rest := strings.TrimPrefix(stmt, "from ")
		if idx := strings.Index(rest, " import"); idx >= 0 {
			names = append(names, rootModule(strings.TrimSpace(rest[:idx])))
		}
	}
	return names
}

func rootModule(path string) string {
	if idx := strings.Index(path, "."); idx >= 0 {
		return path[:idx]
	}
	return path
}
