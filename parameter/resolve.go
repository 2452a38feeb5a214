package parameter

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/fabworks/fabdeploy/faults"
	"github.com/fabworks/fabdeploy/itemtype"
)

// Resolver answers dynamic variable lookups against live remote state. The
// workspace engine implements it; the parameter engine stays offline.
type Resolver interface {
	// WorkspaceID is the id of the workspace being deployed to.
	WorkspaceID() string

	// LookupWorkspace resolves a workspace display name to its id.
	LookupWorkspace(ctx context.Context, name string) (string, error)

	// LookupItemAttribute resolves an attribute (id, sqlendpoint,
	// queryserviceuri) of a deployed item in the given workspace.
	LookupItemAttribute(ctx context.Context, workspaceID string, t itemtype.Type, name, attribute string) (string, error)
}

var validAttributes = map[string]bool{
	"id":              true,
	"sqlendpoint":     true,
	"queryserviceuri": true,
}

// ResolveValue expands a replacement value that is a dynamic variable:
//
//	$workspace.id
//	$workspace.<name>
//	$items.<Type>.<Name>.$<attr>
//	$items.<Type>.<Name>.<attr>
//	$workspace.<name>.$items.<Type>.<Name>.$<attr>
//
// Plain values pass through untouched. A variable that cannot be resolved
// is fatal: publishing with a dangling reference would corrupt the target.
func ResolveValue(ctx context.Context, value string, r Resolver, log logr.Logger) (string, error) {
	v := strings.TrimSpace(value)
	switch {
	case v == "$workspace.id":
		return r.WorkspaceID(), nil

	case strings.HasPrefix(v, "$items."):
		return resolveItem(ctx, r, r.WorkspaceID(), strings.TrimPrefix(v, "$items."), v, log)

	case strings.HasPrefix(v, "$workspace."):
		rest := strings.TrimPrefix(v, "$workspace.")
		if idx := strings.Index(rest, ".$items."); idx >= 0 {
			name := rest[:idx]
			workspaceID, err := r.LookupWorkspace(ctx, name)
			if err != nil {
				return "", faults.New(faults.ParameterValidationError,
					"resolving "+v+": workspace "+name, err)
			}
			return resolveItem(ctx, r, workspaceID, rest[idx+len(".$items."):], v, log)
		}
		workspaceID, err := r.LookupWorkspace(ctx, rest)
		if err != nil {
			return "", faults.New(faults.ParameterValidationError, "resolving "+v, err)
		}
		return workspaceID, nil

	default:
		return value, nil
	}
}

// resolveItem parses "<Type>.<Name>.$<attr>" and performs the lookup. Item
// names may themselves contain dots when the attribute carries the "$"
// prefix, which anchors it to the last segment. The bare-attribute spelling
// is the older form; it still works but names with dots are ambiguous in it.
func resolveItem(ctx context.Context, r Resolver, workspaceID, expr, full string, log logr.Logger) (string, error) {
	parts := strings.Split(expr, ".")
	if len(parts) < 3 {
		return "", faults.Newf(faults.ParameterValidationError,
			"variable %q must have the form $items.<Type>.<Name>.$<attribute>", full)
	}

	t, err := itemtype.Parse(parts[0])
	if err != nil {
		return "", faults.New(faults.ParameterValidationError, "variable "+full, err)
	}

	last := parts[len(parts)-1]
	attribute := strings.ToLower(strings.TrimPrefix(last, "$"))
	if !strings.HasPrefix(last, "$") {
		log.Info("variable uses the deprecated bare attribute form; prefix the attribute with $",
			"variable", full)
	}
	if !validAttributes[attribute] {
		return "", faults.Newf(faults.ParameterValidationError,
			"variable %q: unknown attribute %q", full, attribute)
	}
	name := strings.Join(parts[1:len(parts)-1], ".")

	value, err := r.LookupItemAttribute(ctx, workspaceID, t, name, attribute)
	if err != nil {
		return "", faults.New(faults.ParameterValidationError, "resolving "+full, err)
	}
	return value, nil
}
