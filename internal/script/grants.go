// File: internal/script/grants.go
package script

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// InferGrants derives the capability grant set from the script body when the
// header declares no @grant lines. It walks the JavaScript syntax tree and
// collects every GM_* identifier and GM.<name> member access actually used,
// the same inference classic managers apply to grant-less scripts.
//
// Sources that fail to parse yield an empty set; the capability builder then
// exposes nothing beyond the always-on surface (GM_info, GM_log).
func InferGrants(source string) []string {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(source)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	seen := make(map[string]struct{})
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "identifier":
			if name := n.Content(src); strings.HasPrefix(name, "GM_") {
				seen[name] = struct{}{}
			}
		case "member_expression":
			obj := n.ChildByFieldName("object")
			prop := n.ChildByFieldName("property")
			if obj != nil && prop != nil && obj.Type() == "identifier" && obj.Content(src) == "GM" {
				seen["GM."+prop.Content(src)] = struct{}{}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(tree.RootNode())

	if len(seen) == 0 {
		return nil
	}
	grants := make([]string, 0, len(seen))
	for g := range seen {
		grants = append(grants, g)
	}
	sort.Strings(grants)
	return grants
}
