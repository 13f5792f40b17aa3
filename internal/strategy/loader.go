package strategy

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlas-desktop/trading-runtime/internal/core"
)

// allowedImportPrefixes are the only import paths a strategy source file may
// reference. Anything outside this set is rejected by the sandbox, even if
// it is not explicitly denylisted below — the sandbox is allowlist-first.
var allowedImportPrefixes = []string{
	"github.com/atlas-desktop/trading-runtime/internal/core",
	"github.com/atlas-desktop/trading-runtime/internal/policy",
	"github.com/atlas-desktop/trading-runtime/internal/strategy",
	"github.com/atlas-desktop/trading-runtime/pkg/utils",
	"github.com/shopspring/decimal",
	"math",
	"sort",
	"time",
}

// denylistedImportPrefixes are called out explicitly so the sandbox error
// message can name the category of violation, even though any import not in
// the allowlist is already rejected.
var denylistedImportPrefixes = []string{
	"net", "net/http",
	"os/exec",
	"database/sql",
	"os",
	"io",
	"github.com/atlas-desktop/trading-runtime/internal/adapters",
	"github.com/atlas-desktop/trading-runtime/internal/engine",
	"github.com/atlas-desktop/trading-runtime/internal/orders",
	"github.com/atlas-desktop/trading-runtime/internal/statusapi",
	"github.com/atlas-desktop/trading-runtime/cmd",
}

// Loader resolves strategy plugin source files from a fixed directory,
// statically sandboxes their imports, and hands validated bundles to a
// Registry. It never compiles or executes the candidate source itself —
// only the already-linked, registered factory is ever invoked, and only
// after its source file has passed the sandbox.
type Loader struct {
	dir      string
	registry *Registry
	fset     *token.FileSet
}

// NewLoader builds a Loader rooted at dir, using registry to resolve the
// already-linked factories that correspond to on-disk strategy source files.
func NewLoader(dir string, registry *Registry) *Loader {
	return &Loader{dir: dir, registry: registry, fset: token.NewFileSet()}
}

// Load resolves the strategy named name: it locates "<name>.go" under the
// loader's directory, parses it, sandboxes its imports, then resolves the
// matching factory from the registry and validates the resulting bundle.
func (l *Loader) Load(name string) (Bundle, error) {
	path := filepath.Join(l.dir, name+".go")
	src, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, &core.StrategyLoadError{Name: name, Reason: err.Error()}
	}

	if err := l.sandbox(name, src); err != nil {
		return Bundle{}, err
	}

	factory, ok := l.registry.Resolve(name)
	if !ok {
		return Bundle{}, &core.StrategyLoadError{Name: name, Reason: "no registered factory for this strategy name"}
	}

	bundle := factory()
	if err := Validate(bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// sandbox parses src and rejects any import that is not on the allowlist,
// reporting the offending import path and its line number.
func (l *Loader) sandbox(name string, src []byte) error {
	file, err := parser.ParseFile(l.fset, name+".go", src, parser.ImportsOnly)
	if err != nil {
		return &core.StrategyLoadError{Name: name, Reason: "parse error: " + err.Error()}
	}

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !isAllowed(path) {
			pos := l.fset.Position(imp.Pos())
			return &core.StrategySandboxError{Name: name, ImportPath: path, Line: pos.Line}
		}
	}
	return nil
}

func isAllowed(path string) bool {
	for _, deny := range denylistedImportPrefixes {
		if path == deny || strings.HasPrefix(path, deny+"/") {
			return false
		}
	}
	for _, allow := range allowedImportPrefixes {
		if path == allow || strings.HasPrefix(path, allow+"/") {
			return true
		}
	}
	return false
}

// Validate checks bundle-level schema invariants: bundle type, non-empty
// universe, non-empty required_fields, timeframe equals "1m", and that the
// override field types (enforced by the Go type system at compile time for
// in-repo bundles) are consistent.
func Validate(b Bundle) error {
	if b.Meta.Name == "" {
		return &core.StrategyValidationError{Name: b.Meta.Name, Field: "name", Reason: "must be non-empty"}
	}
	if len(b.Meta.Universe) == 0 {
		return &core.StrategyValidationError{Name: b.Meta.Name, Field: "universe", Reason: "must be non-empty"}
	}
	if len(b.Meta.RequiredFields) == 0 {
		return &core.StrategyValidationError{Name: b.Meta.Name, Field: "required_fields", Reason: "must be non-empty"}
	}
	if b.Meta.Timeframe != "1m" {
		return &core.StrategyValidationError{Name: b.Meta.Name, Field: "timeframe", Reason: "only 1m is supported"}
	}
	if b.Build == nil {
		return &core.StrategyValidationError{Name: b.Meta.Name, Field: "build", Reason: "must supply a factory"}
	}
	return nil
}
