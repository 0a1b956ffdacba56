package sanity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/recruit-cdp/internal/docstore"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// BuildGROQ translates a docstore query into a GROQ expression and its
// parameters. Values are always passed as parameters, never inlined.
func BuildGROQ(q docstore.Query) (string, map[string]any, error) {
	params := map[string]any{}
	var preds []string

	if len(q.Types) > 0 {
		params["types"] = q.Types
		preds = append(preds, "_type in $types")
	}
	for i, f := range q.Filters {
		if f.Path != "" && !pathPattern.MatchString(f.Path) {
			return "", nil, fmt.Errorf("invalid path %q", f.Path)
		}
		name := fmt.Sprintf("p%d", i)
		switch f.Op {
		case docstore.OpEq:
			if f.Value == nil {
				preds = append(preds, "!defined("+f.Path+")")
				continue
			}
			params[name] = f.Value
			preds = append(preds, fmt.Sprintf("%s == $%s", f.Path, name))
		case docstore.OpEqFold:
			params[name] = f.Value
			preds = append(preds, fmt.Sprintf("lower(%s) == lower($%s)", f.Path, name))
		case docstore.OpReferences:
			params[name] = f.Value
			preds = append(preds, fmt.Sprintf("references($%s)", name))
		case docstore.OpDefined:
			preds = append(preds, "defined("+f.Path+")")
		default:
			return "", nil, fmt.Errorf("unsupported filter %q", f.Op)
		}
	}

	var sb strings.Builder
	sb.WriteString("*[")
	sb.WriteString(strings.Join(preds, " && "))
	sb.WriteString("]")
	if q.OrderBy != "" {
		if !pathPattern.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order path %q", q.OrderBy)
		}
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		sb.WriteString(fmt.Sprintf(" | order(%s %s)", q.OrderBy, dir))
	}
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf("[0...%d]", q.Limit))
	}
	return sb.String(), params, nil
}
