// File: internal/script/validate.go
package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// Validate syntax-checks a script source with an ECMAScript parser without
// executing it. Import-time validation keeps obviously broken scripts out of
// the store instead of letting them burn injection retries later.
func Validate(source string) error {
	if _, err := goja.Compile("userscript", source, false); err != nil {
		return fmt.Errorf("script does not parse as JavaScript: %w", err)
	}
	return nil
}
