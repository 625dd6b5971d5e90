package authz

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const fallbackRoleLabel = "Guest"

// Resolver maps roles to permissions and display names. It is a UX
// optimization for client-side gating; the backend remains authoritative.
// A Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	definitions map[Role]RoleDefinition
	locales     []language.Tag
	matcher     language.Matcher
}

func NewResolver(definitions ...RoleDefinition) *Resolver {
	r := &Resolver{
		definitions: make(map[Role]RoleDefinition, len(definitions)),
		locales:     []language.Tag{language.English},
	}

	seen := map[language.Tag]bool{language.English: true}
	for _, def := range definitions {
		names := make(map[language.Tag]string, len(def.DisplayNames))
		for tag, name := range def.DisplayNames {
			names[tag] = name
			if !seen[tag] {
				seen[tag] = true
				r.locales = append(r.locales, tag)
			}
		}
		def.DisplayNames = names
		r.definitions[def.ID] = def
	}

	r.matcher = language.NewMatcher(r.locales)
	return r
}

func DefaultResolver() *Resolver {
	return NewResolver(DefaultRoleDefinitions()...)
}

// Known reports whether role has a definition.
func (r *Resolver) Known(role Role) bool {
	if r == nil {
		return false
	}
	_, ok := r.definitions[role]
	return ok
}

// PermissionsFor never returns an empty mask; unknown roles get PermissionMinimal.
func (r *Resolver) PermissionsFor(role Role) PermissionMask {
	if r == nil {
		return PermissionMinimal
	}
	def, ok := r.definitions[role]
	if !ok || def.Permissions == 0 {
		return PermissionMinimal
	}
	return def.Permissions
}

// DisplayNameFor resolves a label for role in the closest supported locale.
// An empty locale means English. Unknown roles get a title-cased label.
func (r *Resolver) DisplayNameFor(role Role, locale string) string {
	if r != nil {
		if def, ok := r.definitions[role]; ok {
			tag := r.matchLocale(locale)
			if name := def.DisplayNames[tag]; name != "" {
				return name
			}
			if name := def.DisplayNames[language.English]; name != "" {
				return name
			}
		}
	}
	return fallbackDisplayName(role)
}

func (r *Resolver) Roles() []Role {
	if r == nil {
		return nil
	}
	out := make([]Role, 0, len(r.definitions))
	for _, def := range DefaultRoleDefinitions() {
		if _, ok := r.definitions[def.ID]; ok {
			out = append(out, def.ID)
		}
	}
	extra := make([]string, 0)
	for id := range r.definitions {
		if !containsRole(out, id) {
			extra = append(extra, string(id))
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, Role(id))
	}
	return out
}

func (r *Resolver) matchLocale(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return language.English
	}
	_, index := language.MatchStrings(r.matcher, locale)
	if index < 0 || index >= len(r.locales) {
		return language.English
	}
	return r.locales[index]
}

func fallbackDisplayName(role Role) string {
	raw := strings.TrimSpace(string(role))
	raw = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(raw)
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return fallbackRoleLabel
	}
	return cases.Title(language.English).String(raw)
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
